package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mattmezza/drowsy/internal/actuator"
	"github.com/mattmezza/drowsy/internal/alerter"
	"github.com/mattmezza/drowsy/internal/config"
	"github.com/mattmezza/drowsy/internal/display"
	"github.com/mattmezza/drowsy/internal/history"
	"github.com/mattmezza/drowsy/internal/logging"
	"github.com/mattmezza/drowsy/internal/overlay"
	"github.com/mattmezza/drowsy/internal/source"
	"github.com/mattmezza/drowsy/internal/web"
)

var (
	configFile string
	envFile    string
)

func init() {
	flag.StringVar(&configFile, "config", "config.yaml", "Path to the configuration file.")
	flag.StringVar(&envFile, "env", ".env", "Optional file with DROWSY_* secrets.")
}

// FrameView receives every processed frame. It returns false to stop.
type FrameView func(frame source.Frame, results []alerter.FaceResult) bool

// buildActuator combines all configured actuators, ordered by name.
func buildActuator(cfg *config.Config) (actuator.Fanout, error) {
	actuators, err := actuator.InitializeActuators(cfg.Actuators, actuator.TemplatesFromConfig(cfg.Templates))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(actuators))
	for name := range actuators {
		names = append(names, name)
	}
	sort.Strings(names)

	fanout := make(actuator.Fanout, 0, len(names))
	for _, name := range names {
		fanout = append(fanout, actuators[name])
	}
	return fanout, nil
}

// testActuators fires and resolves a synthetic alert on one actuator, or on
// all of them when name is empty.
func testActuators(cfg *config.Config, name string) error {
	if name != "" {
		found := false
		var available []string
		for _, ac := range cfg.Actuators {
			available = append(available, ac.Name)
			if ac.Name == name {
				found = true
			}
		}
		if !found {
			if len(available) == 0 {
				return fmt.Errorf("actuator '%s' not found and no actuators configured", name)
			}
			return fmt.Errorf("actuator '%s' not found in configuration. Available actuators: %s", name, strings.Join(available, ", "))
		}
	}

	actuators, err := actuator.InitializeActuators(cfg.Actuators, actuator.TemplatesFromConfig(cfg.Templates))
	if err != nil {
		return fmt.Errorf("failed to initialize actuators: %w", err)
	}
	if len(actuators) == 0 {
		return errors.New("no actuators were successfully initialized")
	}

	targets := actuators
	if name != "" {
		a, ok := actuators[name]
		if !ok {
			return fmt.Errorf("actuator '%s' was not successfully initialized", name)
		}
		targets = map[string]actuator.Actuator{name: a}
	}

	now := time.Now()
	fired := actuator.Event{
		FaceID:    "test-face",
		Type:      actuator.EventTypeFired,
		EAR:       0.21,
		Threshold: cfg.DrowsyThreshold,
		Sustain:   cfg.Sustain.String(),
		ClosedFor: 3 * time.Second,
		Hostname:  cfg.EffectiveHostname,
		Session:   "test",
		Time:      now,
	}
	resolved := fired
	resolved.Type = actuator.EventTypeResolved
	resolved.Time = now.Add(time.Second)

	success := 0
	for n, a := range targets {
		log := logging.With(logging.Fields{"actuator": n})
		if err := a.Start(fired); err != nil {
			log.WithError(err).Error("Test alert failed to start")
			continue
		}
		time.Sleep(time.Second)
		if err := a.Stop(resolved); err != nil {
			log.WithError(err).Error("Test alert failed to stop")
			continue
		}
		log.Info("Test alert delivered")
		success++
	}
	logging.Info(logging.Fields{"ok": success, "total": len(targets)}, "Actuator test completed")
	if success == 0 {
		return errors.New("all actuators failed")
	}
	return nil
}

// run feeds frames from src through the alerter until the source ends, the
// view asks to stop or ctx is cancelled. Active alerts are always switched
// off before returning.
func run(ctx context.Context, src source.Source, al *alerter.Alerter, view FrameView) error {
	last := time.Now()
	defer func() { al.Close(last) }()

	for {
		frame, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logging.Info(logging.Fields{"error": err}, "Source exhausted")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		last = frame.Time

		results := al.ProcessFrame(frame)
		if view != nil && !view(frame, results) {
			logging.Info(nil, "Stopped by user")
			return nil
		}
		al.Sweep(frame.Time)
	}
}

// openSource builds the configured source and, for cameras with a window,
// the view that renders overlays on the live image.
func openSource(cfg *config.Config) (source.Source, FrameView, func(), error) {
	switch cfg.Source.Type {
	case "camera":
		lm := source.NewHTTPLandmarker(cfg.Source.LandmarkURL, time.Second)
		cam, err := display.OpenCamera(cfg.Source.Device, lm)
		if err != nil {
			return nil, nil, nil, err
		}
		if !cfg.Source.Window {
			return cam, nil, func() {}, nil
		}
		win := display.NewWindow("Drowsiness Detection")
		view := func(_ source.Frame, results []alerter.FaceResult) bool {
			var reqs overlay.Requests
			for _, r := range results {
				reqs.Merge(r.Overlay)
			}
			display.Render(cam.Mat(), reqs)
			return win.Show(*cam.Mat())
		}
		return cam, view, func() { win.Close() }, nil
	default:
		opts := []source.ReplayOption{source.WithPacing()}
		if !cfg.Source.Base.IsZero() {
			opts = append(opts, source.WithBaseTime(cfg.Source.Base))
		}
		src, err := source.OpenReplay(cfg.Source.Path, cfg.Source.FPS, opts...)
		if err != nil {
			return nil, nil, nil, err
		}
		return src, nil, func() {}, nil
	}
}

func main() {
	flag.Parse()

	if err := config.LoadDotEnv(envFile); err != nil {
		logging.Fatal(logging.Fields{"error": err}, "Failed to load env file")
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logging.Fatal(logging.Fields{"config": configFile, "error": err}, "Failed to load configuration")
	}
	logging.Init(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	args := flag.Args()
	if len(args) > 0 && args[0] == "test-actuator" {
		var name string
		if len(args) > 1 {
			name = args[1]
		}
		if err := testActuators(cfg, name); err != nil {
			logging.Fatal(logging.Fields{"error": err}, "Actuator test failed")
		}
		return
	}

	sessionID := uuid.NewString()
	logging.Info(logging.Fields{
		"config":   configFile,
		"session":  sessionID,
		"hostname": cfg.EffectiveHostname,
		"sustain":  cfg.Sustain.String(),
		"source":   cfg.Source.Type,
	}, "Starting drowsy")

	fanout, err := buildActuator(cfg)
	if err != nil {
		logging.Fatal(logging.Fields{"error": err}, "Failed to initialize actuators")
	}
	if len(fanout) == 0 {
		logging.Warn(nil, "No actuators initialized; alerts will only be logged")
	}

	// For cameras fps is only the nominal rate; the buffer keeps a time window.
	frameInterval := time.Duration(float64(time.Second) / cfg.Source.FPS)
	earHist := history.NewEARHistoryBuffer(history.WindowFor(cfg.Sustain, frameInterval), frameInterval)

	al, err := alerter.NewAlerter(cfg, earHist, fanout, sessionID)
	if err != nil {
		logging.Fatal(logging.Fields{"error": err}, "Failed to initialize alerter")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Status.Listen != "" {
		srv := web.NewServer(al.Snapshot)
		go func() {
			if err := srv.Start(cfg.Status.Listen); err != nil {
				logging.Error(logging.Fields{"error": err}, "Status server stopped")
			}
		}()
		defer srv.Shutdown()
	}

	src, view, cleanup, err := openSource(cfg)
	if err != nil {
		logging.Fatal(logging.Fields{"error": err}, "Failed to open source")
	}
	defer src.Close()
	defer cleanup()

	if err := run(ctx, src, al, view); err != nil {
		logging.Error(logging.Fields{"error": err}, "Processing stopped")
		os.Exit(1)
	}
	logging.Info(nil, "drowsy shut down.")
}
