package actuator

import (
	"fmt"
	"io"
	"os"
)

type StdoutActuator struct {
	name      string
	templates Templates
	out       io.Writer
}

func NewStdoutActuator(name string, templates Templates) (*StdoutActuator, error) {
	return &StdoutActuator{
		name:      name,
		templates: templates,
		out:       os.Stdout,
	}, nil
}

func (sout *StdoutActuator) Name() string {
	return sout.name
}

func (sout *StdoutActuator) Start(ev Event) error {
	return sout.print(ev)
}

func (sout *StdoutActuator) Stop(ev Event) error {
	return sout.print(ev)
}

func (sout *StdoutActuator) print(ev Event) error {
	msg, err := sout.templates.render("stdout_message", ev)
	if err != nil {
		return fmt.Errorf("failed to render stdout template for face '%s': %w", ev.FaceID, err)
	}
	_, err = fmt.Fprintf(sout.out, "%s\n", msg)
	return err
}
