package actuator

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/mattmezza/drowsy/internal/config"
)

type EmailActuator struct {
	name      string
	config    config.EmailActuatorConfig
	templates Templates
	send      func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailActuator(name string, cfg config.EmailActuatorConfig, templates Templates) (*EmailActuator, error) {
	if cfg.SMTPHost == "" || cfg.SMTPPort == 0 || cfg.SMTPFrom == "" || len(cfg.SMTPTo) == 0 {
		return nil, fmt.Errorf("email actuator '%s' is missing required configuration (host, port, from, to)", name)
	}
	en := &EmailActuator{name: name, config: cfg, templates: templates}
	en.send = smtp.SendMail
	if cfg.SMTPUseTLS {
		en.send = en.sendStartTLS
	}
	return en, nil
}

func (en *EmailActuator) Name() string {
	return en.name
}

func (en *EmailActuator) Start(ev Event) error {
	return en.mail(ev)
}

func (en *EmailActuator) Stop(ev Event) error {
	return en.mail(ev)
}

func (en *EmailActuator) mail(ev Event) error {
	subjectPrefix := "DROWSINESS ALERT"
	if ev.Type == EventTypeResolved {
		subjectPrefix = "DROWSINESS RESOLVED"
	}
	subject := fmt.Sprintf("%s: face %s on %s", subjectPrefix, ev.FaceID, ev.Hostname)

	body, err := en.templates.render("email_body", ev)
	if err != nil {
		return fmt.Errorf("failed to render email template for face '%s': %w", ev.FaceID, err)
	}

	msg := buildMessage(en.config.SMTPFrom, en.config.SMTPTo, subject, body)

	var auth smtp.Auth
	if en.config.SMTPUsername != "" {
		auth = smtp.PlainAuth("", en.config.SMTPUsername, en.config.SMTPPassword, en.config.SMTPHost)
	}

	addr := fmt.Sprintf("%s:%d", en.config.SMTPHost, en.config.SMTPPort)
	to := make([]string, 0, len(en.config.SMTPTo))
	for _, rcpt := range en.config.SMTPTo {
		to = append(to, extractEmail(rcpt))
	}
	if err := en.send(addr, auth, extractEmail(en.config.SMTPFrom), to, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	return []byte(fmt.Sprintf("To: %s\r\n"+
		"From: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n", strings.Join(to, ","), from, subject, body))
}

func (en *EmailActuator) sendStartTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to dial SMTP server (pre-TLS): %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); !ok {
		return fmt.Errorf("SMTP server does not support STARTTLS, but smtp_use_tls was true")
	}
	if err = client.StartTLS(&tls.Config{ServerName: en.config.SMTPHost}); err != nil {
		return fmt.Errorf("failed to start TLS with SMTP server: %w", err)
	}
	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err = client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM failed: %w", err)
	}
	for _, rcpt := range to {
		if err = client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT TO failed for %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command failed: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("failed to write email body: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("failed to close email data writer: %w", err)
	}
	return client.Quit()
}

// extractEmail parses "Display Name <email@example.com>" and returns "email@example.com"
func extractEmail(fullEmail string) string {
	start := strings.LastIndex(fullEmail, "<")
	end := strings.LastIndex(fullEmail, ">")
	if start != -1 && end > start {
		return fullEmail[start+1 : end]
	}
	return fullEmail
}
