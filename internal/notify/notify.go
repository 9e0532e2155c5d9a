// Package notify delivers alert messages to the configured channels.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stock-alert/internal/config"
	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/logging"
	"stock-alert/internal/models"
	"stock-alert/internal/security"
)

// Notifier sends an alert message.
type Notifier interface {
	Send(ctx context.Context, msg models.AlertMessage) error
}

// NotificationChannel is a single delivery target.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, msg models.AlertMessage) error
	IsEnabled() bool
}

// MultiNotifier sends messages to every enabled channel.
type MultiNotifier struct {
	channels []NotificationChannel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a MultiNotifier with the channels enabled in cfg.
func NewMultiNotifier(cfg *config.NotificationConfig, logger zerolog.Logger) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
	}

	if cfg.Discord.WebhookURL != "" {
		mn.channels = append(mn.channels, NewDiscordNotifier(cfg.Discord))
	}
	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}
	if cfg.Email.Enabled {
		mn.channels = append(mn.channels, NewEmailNotifier(cfg.Email))
	}
	if cfg.Log {
		mn.channels = append(mn.channels, NewLogNotifier(logger))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Channels returns the names of the enabled channels.
func (mn *MultiNotifier) Channels() []string {
	mn.mu.RLock()
	defer mn.mu.RUnlock()

	names := make([]string, 0, len(mn.channels))
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			names = append(names, ch.Name())
		}
	}
	return names
}

// Send delivers msg to all enabled channels. Every channel is attempted; the
// failures are joined.
func (mn *MultiNotifier) Send(ctx context.Context, msg models.AlertMessage) error {
	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []error
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, msg); err != nil {
				errs = append(errs, apperrors.NewNotifierError(ch.Name(), err))
			}
		}
	}
	return apperrors.Join(errs...)
}

// DiscordNotifier posts to a Discord webhook.
type DiscordNotifier struct {
	url    string
	client *http.Client
}

// NewDiscordNotifier creates a new DiscordNotifier.
func NewDiscordNotifier(cfg config.DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		url: cfg.WebhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) IsEnabled() bool { return d.url != "" }

// Send posts {"content": text}. Discord renders the markdown in the message.
func (d *DiscordNotifier) Send(ctx context.Context, msg models.AlertMessage) error {
	return postJSON(ctx, d.client, d.url, map[string]string{"content": msg.Text()}, "discord")
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send posts the message as JSON.
func (w *WebhookNotifier) Send(ctx context.Context, msg models.AlertMessage) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"symbol_id": msg.SymbolID,
		"ticker":    msg.Ticker,
		"signature": msg.Signature,
		"title":     Plain(msg.Title),
		"message":   Plain(msg.Body),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	return postJSON(ctx, w.client, w.url, payload, "webhook")
}

// postJSON makes a single delivery attempt.
func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, channel string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", channel, security.ScrubError(err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "StockAlert/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s: %w", channel, security.ScrubError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", channel, resp.StatusCode)
	}
	return nil
}

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		apiBase:  telegramAPI,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send sends a notification via Telegram.
func (t *TelegramNotifier) Send(ctx context.Context, msg models.AlertMessage) error {
	if !t.enabled {
		return nil
	}

	// HTML parse mode
	text := fmt.Sprintf("<b>%s</b>", escapeHTML(Plain(msg.Title)))
	if msg.Body != "" {
		text += "\n\n" + escapeHTML(Plain(msg.Body))
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	return postJSON(ctx, t.client, url, payload, "telegram")
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// Plain strips the chat markdown used in titles.
func Plain(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	return strings.ReplaceAll(s, "`", "")
}

// EmailNotifier sends notifications via email using SMTP.
type EmailNotifier struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	to       string
	enabled  bool
}

// NewEmailNotifier creates a new EmailNotifier.
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		smtpHost: cfg.SMTPHost,
		smtpPort: cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		to:       cfg.To,
		enabled:  cfg.Enabled && cfg.SMTPHost != "" && cfg.From != "" && cfg.To != "",
	}
}

// Name returns the name of the notifier.
func (e *EmailNotifier) Name() string {
	return "email"
}

// IsEnabled returns whether the notifier is enabled.
func (e *EmailNotifier) IsEnabled() bool {
	return e.enabled
}

// Send sends a notification via email.
func (e *EmailNotifier) Send(ctx context.Context, msg models.AlertMessage) error {
	if !e.enabled {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", e.smtpHost, e.smtpPort)
	body := buildEmail(e.from, e.to, msg)

	var auth smtp.Auth
	if e.username != "" && e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.smtpHost)
	}

	// Use TLS for secure connection
	if e.smtpPort == 465 {
		return e.sendWithTLS(addr, auth, body)
	}

	// Use STARTTLS for port 587 or plain for others
	return smtp.SendMail(addr, auth, e.from, []string{e.to}, []byte(body))
}

func buildEmail(from, to string, msg models.AlertMessage) string {
	subject := fmt.Sprintf("[stock-alert] %s", Plain(msg.Title))
	body := Plain(msg.Body)
	if body == "" {
		body = Plain(msg.Title)
	}
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		from, to, subject, body)
}

// sendWithTLS sends email using implicit TLS (port 465).
func (e *EmailNotifier) sendWithTLS(addr string, auth smtp.Auth, msg string) error {
	tlsConfig := &tls.Config{
		ServerName: e.smtpHost,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("TLS dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}

	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("SMTP MAIL command failed: %w", err)
	}

	if err := client.Rcpt(e.to); err != nil {
		return fmt.Errorf("SMTP RCPT command failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command failed: %w", err)
	}

	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log channel.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.WithComponent(logger, "notify")}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) IsEnabled() bool { return true }

func (l *LogNotifier) Send(_ context.Context, msg models.AlertMessage) error {
	l.logger.Info().
		Str("ticker", msg.Ticker).
		Str("signature", string(msg.Signature)).
		Str("title", Plain(msg.Title)).
		Str("body", msg.Body).
		Msg("Alert")
	return nil
}

// NoOpNotifier is a notifier that does nothing.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(context.Context, models.AlertMessage) error {
	return nil
}
