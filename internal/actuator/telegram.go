package actuator

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/mattmezza/drowsy/internal/config"
)

const defaultTelegramAPIBase = "https://api.telegram.org"

type TelegramActuator struct {
	name      string
	config    config.TelegramActuatorConfig
	templates Templates
	client    *http.Client
}

func NewTelegramActuator(name string, cfg config.TelegramActuatorConfig, templates Templates) (*TelegramActuator, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram actuator '%s' is missing bot_token (from ENV) or chat_id", name)
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultTelegramAPIBase
	}
	return &TelegramActuator{
		name:      name,
		config:    cfg,
		templates: templates,
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (tn *TelegramActuator) Name() string {
	return tn.name
}

func (tn *TelegramActuator) Start(ev Event) error {
	return tn.send(ev)
}

func (tn *TelegramActuator) Stop(ev Event) error {
	return tn.send(ev)
}

// send posts the rendered message with MarkdownV2 escaping.
func (tn *TelegramActuator) send(ev Event) error {
	rawMessage, err := tn.templates.render("telegram_message", ev)
	if err != nil {
		return fmt.Errorf("failed to render Telegram template for face '%s': %w", ev.FaceID, err)
	}

	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimSuffix(tn.config.APIBase, "/"), tn.config.BotToken)

	payloadBytes, err := jsoniter.Marshal(map[string]string{
		"chat_id":    tn.config.ChatID,
		"text":       escapeTextForMarkdownV2(rawMessage),
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal Telegram payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, apiURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return fmt.Errorf("failed to create Telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message to Telegram API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

// escapeTextForMarkdownV2 escapes text for Telegram MarkdownV2.
// Telegram requires escaping: _ * [ ] ( ) ~ ` > # + - = | { } . !
func escapeTextForMarkdownV2(text string) string {
	const escapeChars = "_*[]()~`>#+-=|{}.!"
	var result strings.Builder
	for _, r := range text {
		if strings.ContainsRune(escapeChars, r) {
			result.WriteByte('\\')
		}
		result.WriteRune(r)
	}
	return result.String()
}
