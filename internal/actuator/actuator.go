// Package actuator drives the external devices that make an alert noticeable:
// a looping alarm sound and outbound messages to people responsible for the
// subject.
package actuator

import (
	"bytes"
	"errors"
	"fmt"
	gotexttemplate "text/template"
	"time"

	"github.com/mattmezza/drowsy/internal/config"
	"github.com/mattmezza/drowsy/internal/logging"
)

type EventType string

const (
	EventTypeFired    EventType = "FIRED"
	EventTypeResolved EventType = "RESOLVED"
)

// Event is the data passed to actuators and templates.
type Event struct {
	FaceID    string
	Type      EventType
	EAR       float64       // average EAR over the closure window
	Threshold float64       // drowsy threshold in effect
	Sustain   string        // e.g. "10s" or "35 frames"
	ClosedFor time.Duration // how long the eyes had been closing
	Hostname  string
	Session   string
	Time      time.Time
}

type Templates struct {
	FiredTemplate    string
	ResolvedTemplate string
}

func TemplatesFromConfig(tc config.TemplateConfig) Templates {
	return Templates{FiredTemplate: tc.AlertFired, ResolvedTemplate: tc.AlertResolved}
}

// Actuator is the interface for all alert output types.
// Start is called once when a face enters the alerting state and Stop once
// when it leaves it.
type Actuator interface {
	Start(ev Event) error
	Stop(ev Event) error
	Name() string
}

func renderTemplate(templateName string, templateStr string, ev Event) (string, error) {
	tmpl, err := gotexttemplate.New(templateName).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateName, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ev); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateName, err)
	}
	return buf.String(), nil
}

func (t Templates) render(name string, ev Event) (string, error) {
	tmpl := t.FiredTemplate
	if ev.Type == EventTypeResolved {
		tmpl = t.ResolvedTemplate
	}
	return renderTemplate(name, tmpl, ev)
}

// Fanout forwards every call to all of its actuators and joins their errors.
type Fanout []Actuator

func (f Fanout) Name() string { return "fanout" }

func (f Fanout) Start(ev Event) error {
	var errs []error
	for _, a := range f {
		if err := a.Start(ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Stop(ev Event) error {
	var errs []error
	for _, a := range f {
		if err := a.Stop(ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// InitializeActuators builds every configured actuator, skipping the ones
// whose configuration is unusable.
func InitializeActuators(cfgs []config.ActuatorConfig, templates Templates) (map[string]Actuator, error) {
	actuators := make(map[string]Actuator)
	for _, ac := range cfgs {
		var instance Actuator
		var err error
		switch ac.Type {
		case "sound":
			soundCfg, convErr := config.GetSoundActuatorConfig(ac)
			if convErr != nil {
				logging.Warn(logging.Fields{"actuator": ac.Name, "error": convErr}, "Skipping sound actuator due to config error")
				continue
			}
			instance, err = NewSoundActuator(ac.Name, *soundCfg)
		case "email":
			emailCfg, convErr := config.GetEmailActuatorConfig(ac)
			if convErr != nil {
				logging.Warn(logging.Fields{"actuator": ac.Name, "error": convErr}, "Skipping email actuator due to config error")
				continue
			}
			instance, err = NewEmailActuator(ac.Name, *emailCfg, templates)
		case "telegram":
			telegramCfg, convErr := config.GetTelegramActuatorConfig(ac)
			if convErr != nil {
				logging.Warn(logging.Fields{"actuator": ac.Name, "error": convErr}, "Skipping telegram actuator due to config error")
				continue
			}
			instance, err = NewTelegramActuator(ac.Name, *telegramCfg, templates)
		case "stdout":
			instance, err = NewStdoutActuator(ac.Name, templates)
		default:
			logging.Warn(logging.Fields{"actuator": ac.Name, "type": ac.Type}, "Unsupported actuator type. Skipping.")
			continue
		}

		if err != nil {
			logging.Warn(logging.Fields{"actuator": ac.Name, "type": ac.Type, "error": err}, "Failed to initialize actuator. Skipping.")
			continue
		}
		if _, exists := actuators[ac.Name]; exists {
			return nil, fmt.Errorf("duplicate actuator name defined: %s", ac.Name)
		}
		actuators[ac.Name] = instance
		logging.Info(logging.Fields{"actuator": ac.Name, "type": ac.Type}, "Initialized actuator")
	}
	return actuators, nil
}
