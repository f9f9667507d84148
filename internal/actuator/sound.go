package actuator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattmezza/drowsy/internal/config"
	"github.com/mattmezza/drowsy/internal/logging"
)

// DefaultPlayerCommand loops the file forever; {file} is substituted.
var DefaultPlayerCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-loop", "0", "{file}"}

// Player produces continuous looped audio between Play and Halt.
type Player interface {
	Play() error
	Halt() error
}

// SoundActuator plays the alarm while at least one face is alerting.
// Several faces may alert at once; the sound starts with the first and
// stops with the last.
type SoundActuator struct {
	name   string
	player Player

	mu      sync.Mutex
	faces   map[string]struct{}
	playing bool
}

func NewSoundActuator(name string, cfg config.SoundActuatorConfig) (*SoundActuator, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("sound actuator '%s' has no file", name)
	}
	if _, err := os.Stat(cfg.File); err != nil {
		return nil, fmt.Errorf("sound actuator '%s': %w", name, err)
	}
	command := cfg.Command
	if len(command) == 0 {
		command = DefaultPlayerCommand
	}
	return NewSoundActuatorWithPlayer(name, NewExecPlayer(command, cfg.File)), nil
}

func NewSoundActuatorWithPlayer(name string, player Player) *SoundActuator {
	return &SoundActuator{
		name:   name,
		player: player,
		faces:  make(map[string]struct{}),
	}
}

func (s *SoundActuator) Name() string {
	return s.name
}

// Start registers the face and starts the player if it is not sounding yet.
// A face whose playback failed is not registered, so the next Start retries.
func (s *SoundActuator) Start(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.faces[ev.FaceID]; ok {
		return nil
	}
	if !s.playing {
		if err := s.player.Play(); err != nil {
			return err
		}
		s.playing = true
	}
	s.faces[ev.FaceID] = struct{}{}
	return nil
}

func (s *SoundActuator) Stop(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.faces[ev.FaceID]; !ok {
		return nil
	}
	delete(s.faces, ev.FaceID)
	if len(s.faces) > 0 || !s.playing {
		return nil
	}
	s.playing = false
	return s.player.Halt()
}

// ExecPlayer runs an external audio player, restarting it whenever it exits
// until Halt is called.
type ExecPlayer struct {
	args []string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewExecPlayer(command []string, file string) *ExecPlayer {
	args := make([]string, len(command))
	for i, a := range command {
		args[i] = strings.ReplaceAll(a, "{file}", file)
	}
	return &ExecPlayer{args: args}
}

func (p *ExecPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return nil
	}
	if _, err := exec.LookPath(p.args[0]); err != nil {
		return fmt.Errorf("audio player: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	return nil
}

func (p *ExecPlayer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		cmd := exec.CommandContext(ctx, p.args[0], p.args[1:]...)
		err := cmd.Run()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.Warn(logging.Fields{"command": p.args[0], "error": err}, "Audio player exited with error, restarting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (p *ExecPlayer) Halt() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("audio player did not stop within 5s")
	}
	return nil
}
