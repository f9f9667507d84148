package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mattmezza/drowsy/internal/logging"
	"github.com/mattmezza/drowsy/internal/util"
)

// ErrInvalidConfig wraps every validation failure returned by LoadConfig.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	DefaultBlinkThreshold  = 0.2
	DefaultDrowsyThreshold = 0.3
	DefaultSustain         = "10s"
	DefaultFaceTimeout     = "30s"
	DefaultReplayFPS       = 30.0

	envVarPrefix = "DROWSY_"
)

type Config struct {
	BlinkThreshold   float64          `yaml:"blink_threshold" validate:"gte=0,lte=1"`
	DrowsyThreshold  float64          `yaml:"drowsy_threshold" validate:"gte=0,lte=1"`
	SustainStr       string           `yaml:"sustain"`      // "10s" (wall clock) or "35f" (frames)
	FaceTimeoutStr   string           `yaml:"face_timeout"` // "0" keeps lost faces forever
	HostnameOverride string           `yaml:"hostname"`
	Source           SourceConfig     `yaml:"source"`
	Actuators        []ActuatorConfig `yaml:"actuators" validate:"dive"`
	Templates        TemplateConfig   `yaml:"templates"`
	Logging          LoggingConfig    `yaml:"logging"`
	Status           StatusConfig     `yaml:"status"`

	Sustain           util.Sustain  `yaml:"-"` // Parsed
	FaceTimeout       time.Duration `yaml:"-"` // Parsed
	EffectiveHostname string        `yaml:"-"` // Derived
}

type SourceConfig struct {
	Type        string    `yaml:"type" validate:"oneof=replay camera"`
	Path        string    `yaml:"path" validate:"required_if=Type replay"`
	FPS         float64   `yaml:"fps" validate:"gte=0"` // replay spacing; for cameras the expected maximum rate
	Device      int       `yaml:"device" validate:"gte=0"`
	LandmarkURL string    `yaml:"landmark_url" validate:"required_if=Type camera,omitempty,url"`
	Window      bool      `yaml:"window"`
	BaseTime    string    `yaml:"base_time" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"` // RFC 3339, replay only
	Base        time.Time `yaml:"-"`                                                                 // Parsed BaseTime, zero means now
}

type ActuatorConfig struct {
	Name   string                 `yaml:"name" validate:"required"`
	Type   string                 `yaml:"type" validate:"oneof=sound stdout telegram email"`
	Config map[string]interface{} `yaml:"config"`
}

type SoundActuatorConfig struct {
	File    string   `yaml:"file"`
	Command []string `yaml:"command"` // "{file}" is replaced by File
}

type EmailActuatorConfig struct {
	SMTPHost     string   `yaml:"smtp_host"`
	SMTPPort     int      `yaml:"smtp_port"`
	SMTPUsername string   `yaml:"smtp_username"`
	SMTPPassword string   `yaml:"smtp_password"` // Will be populated from ENV
	SMTPFrom     string   `yaml:"smtp_from"`
	SMTPTo       []string `yaml:"smtp_to"`
	SMTPUseTLS   bool     `yaml:"smtp_use_tls"`
}

type TelegramActuatorConfig struct {
	BotToken string `yaml:"bot_token"` // Will be populated from ENV
	ChatID   string `yaml:"chat_id"`
	APIBase  string `yaml:"api_base"`
}

type TemplateConfig struct {
	AlertFired    string `yaml:"alert_fired"`
	AlertResolved string `yaml:"alert_resolved"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
}

type StatusConfig struct {
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
}

var validate = validator.New()

// LoadDotEnv loads KEY=value files into the environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", filePath, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.BlinkThreshold > cfg.DrowsyThreshold {
		return nil, fmt.Errorf("%w: blink_threshold %.3f is above drowsy_threshold %.3f",
			ErrInvalidConfig, cfg.BlinkThreshold, cfg.DrowsyThreshold)
	}

	var err error
	cfg.Sustain, err = util.ParseSustain(cfg.SustainStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.FaceTimeout, err = util.ParseDurationString(cfg.FaceTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("%w: face_timeout: %v", ErrInvalidConfig, err)
	}
	if cfg.Source.BaseTime != "" {
		cfg.Source.Base, err = time.Parse(time.RFC3339, cfg.Source.BaseTime)
		if err != nil {
			return nil, fmt.Errorf("%w: source.base_time: %v", ErrInvalidConfig, err)
		}
	}

	if strings.TrimSpace(cfg.HostnameOverride) != "" {
		cfg.EffectiveHostname = cfg.HostnameOverride
	} else {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get OS hostname: %w", err)
		}
		cfg.EffectiveHostname = hostname
	}

	seen := make(map[string]bool)
	for i := range cfg.Actuators {
		ac := &cfg.Actuators[i]
		if seen[ac.Name] {
			return nil, fmt.Errorf("%w: duplicate actuator name %q", ErrInvalidConfig, ac.Name)
		}
		seen[ac.Name] = true
		injectSecrets(ac)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BlinkThreshold <= 0 {
		cfg.BlinkThreshold = DefaultBlinkThreshold
	}
	if cfg.DrowsyThreshold <= 0 {
		cfg.DrowsyThreshold = DefaultDrowsyThreshold
	}
	if strings.TrimSpace(cfg.SustainStr) == "" {
		cfg.SustainStr = DefaultSustain
	}
	if strings.TrimSpace(cfg.FaceTimeoutStr) == "" {
		cfg.FaceTimeoutStr = DefaultFaceTimeout
	}
	if cfg.Source.Type == "" {
		cfg.Source.Type = "replay"
	}
	if cfg.Source.FPS <= 0 {
		cfg.Source.FPS = DefaultReplayFPS
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Templates.AlertFired == "" {
		cfg.Templates.AlertFired = `DROWSINESS ALERT: face {{.FaceID}} on {{.Hostname}}. EAR {{printf "%.3f" .EAR}} below {{.Threshold}} for {{.Sustain}}. Time: {{.Time.Format "2006-01-02 15:04:05"}}`
	}
	if cfg.Templates.AlertResolved == "" {
		cfg.Templates.AlertResolved = `DROWSINESS RESOLVED: face {{.FaceID}} on {{.Hostname}} after {{.ClosedFor}}. Time: {{.Time.Format "2006-01-02 15:04:05"}}`
	}
}

// injectSecrets loads sensitive values from ENV.
// Naming convention: DROWSY_<SENSITIVE_FIELD_NAME>_<ACTUATOR_NAME_UPPERCASE>,
// e.g. DROWSY_TELEGRAM_TOKEN_DISPATCH or DROWSY_SMTP_PASSWORD_FLEET_MAIL.
func injectSecrets(ac *ActuatorConfig) {
	nameUpper := strings.ToUpper(strings.ReplaceAll(ac.Name, "-", "_"))

	var envKey, field string
	switch ac.Type {
	case "email":
		envKey, field = fmt.Sprintf("%sSMTP_PASSWORD_%s", envVarPrefix, nameUpper), "smtp_password"
	case "telegram":
		envKey, field = fmt.Sprintf("%sTELEGRAM_TOKEN_%s", envVarPrefix, nameUpper), "bot_token"
	default:
		return
	}

	if v := os.Getenv(envKey); v != "" {
		if ac.Config == nil {
			ac.Config = make(map[string]interface{})
		}
		ac.Config[field] = v
		return
	}
	if v, ok := ac.Config[field]; ok && v != "" {
		logging.Warn(logging.Fields{"actuator": ac.Name, "field": field, "env": envKey},
			"Secret found in config file. It should be set via ENV var")
	}
}

// GetSoundActuatorConfig converts the generic map into a typed sound config.
func GetSoundActuatorConfig(ac ActuatorConfig) (*SoundActuatorConfig, error) {
	if ac.Type != "sound" {
		return nil, fmt.Errorf("not a sound actuator")
	}
	var soundCfg SoundActuatorConfig
	if file, ok := ac.Config["file"].(string); ok {
		soundCfg.File = file
	} else {
		return nil, fmt.Errorf("actuator '%s': file missing or not a string", ac.Name)
	}
	if cmd, ok := ac.Config["command"].([]interface{}); ok {
		for _, part := range cmd {
			if s, ok := part.(string); ok {
				soundCfg.Command = append(soundCfg.Command, s)
			}
		}
	}
	return &soundCfg, nil
}

// Helper to get typed Email config
func GetEmailActuatorConfig(ac ActuatorConfig) (*EmailActuatorConfig, error) {
	if ac.Type != "email" {
		return nil, fmt.Errorf("not an email actuator")
	}
	var emailCfg EmailActuatorConfig
	if host, ok := ac.Config["smtp_host"].(string); ok {
		emailCfg.SMTPHost = host
	} else {
		return nil, fmt.Errorf("actuator '%s': smtp_host missing or not a string", ac.Name)
	}
	if port, ok := ac.Config["smtp_port"].(int); ok {
		emailCfg.SMTPPort = port
	} else {
		return nil, fmt.Errorf("actuator '%s': smtp_port missing or not an int", ac.Name)
	}
	if user, ok := ac.Config["smtp_username"].(string); ok {
		emailCfg.SMTPUsername = user
	}
	if pass, ok := ac.Config["smtp_password"].(string); ok {
		emailCfg.SMTPPassword = pass
	}
	if from, ok := ac.Config["smtp_from"].(string); ok {
		emailCfg.SMTPFrom = from
	} else {
		return nil, fmt.Errorf("actuator '%s': smtp_from missing or not a string", ac.Name)
	}
	if toVal, ok := ac.Config["smtp_to"].([]interface{}); ok {
		for _, t := range toVal {
			if tStr, ok := t.(string); ok {
				emailCfg.SMTPTo = append(emailCfg.SMTPTo, tStr)
			}
		}
	} else {
		return nil, fmt.Errorf("actuator '%s': smtp_to missing or not a list of strings", ac.Name)
	}
	if useTLS, ok := ac.Config["smtp_use_tls"].(bool); ok {
		emailCfg.SMTPUseTLS = useTLS
	}

	if emailCfg.SMTPHost == "" || emailCfg.SMTPPort == 0 || emailCfg.SMTPFrom == "" || len(emailCfg.SMTPTo) == 0 {
		return nil, fmt.Errorf("actuator '%s': one or more required email config fields are missing (host, port, from, to)", ac.Name)
	}
	return &emailCfg, nil
}

// Helper to get typed Telegram config
func GetTelegramActuatorConfig(ac ActuatorConfig) (*TelegramActuatorConfig, error) {
	if ac.Type != "telegram" {
		return nil, fmt.Errorf("not a telegram actuator")
	}
	var telegramCfg TelegramActuatorConfig
	if token, ok := ac.Config["bot_token"].(string); ok {
		telegramCfg.BotToken = token
	}
	if chatID, ok := ac.Config["chat_id"].(string); ok {
		telegramCfg.ChatID = chatID
	} else {
		return nil, fmt.Errorf("actuator '%s': chat_id missing or not a string", ac.Name)
	}
	if base, ok := ac.Config["api_base"].(string); ok {
		telegramCfg.APIBase = base
	}

	if telegramCfg.BotToken == "" || telegramCfg.ChatID == "" {
		return nil, fmt.Errorf("actuator '%s': bot_token (from ENV) or chat_id are missing", ac.Name)
	}
	return &telegramCfg, nil
}
