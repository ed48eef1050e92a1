// Package telegram posts funnel notifications to a Telegram chat through
// the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/metrics"
	"github.com/ignite-health/funnel/internal/telemetry"
	"github.com/rs/zerolog"
)

const (
	DefaultAPIURL  = "https://api.telegram.org"
	DefaultTimeout = 10 * time.Second
	// maxMessageLength is the Bot API limit for sendMessage text.
	maxMessageLength = 4096
)

// Notifier sends HTML formatted messages to one chat.
type Notifier struct {
	httpClient *http.Client
	apiURL     string
	token      string
	chatID     string
	logger     zerolog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		n.httpClient = client
	}
}

func New(cfg config.TelegramConfig, logger zerolog.Logger, opts ...Option) *Notifier {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	n := &Notifier{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      cfg.BotToken,
		chatID:     cfg.ChatID,
		logger:     logger.With().Str("component", "telegram").Logger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Enabled reports whether a bot token and chat are configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.token != "" && n.chatID != ""
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// Send posts text to the configured chat. A disabled notifier logs the
// message at debug level and returns nil.
func (n *Notifier) Send(ctx context.Context, text string) (err error) {
	if !n.Enabled() {
		n.logger.Debug().Str("text", text).Msg("telegram disabled, notification skipped")
		return nil
	}

	start := time.Now()
	ctx, finish := telemetry.StartSpan(ctx, "telegram", "telegram.send")
	defer func() {
		finish(err)
		metrics.ObserveUpstream("telegram", start, err)
	}()

	if len(text) > maxMessageLength {
		text = truncateUTF8(text, maxMessageLength)
	}
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                n.chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		// The request URL carries the bot token; keep it out of the error.
		return fmt.Errorf("telegram: send message: %w", redact(err, n.token))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("telegram: status %d: unreadable response", resp.StatusCode)
	}
	if !out.OK {
		return fmt.Errorf("telegram: %d %s", out.ErrorCode, out.Description)
	}
	return nil
}

type redactedError struct {
	msg   string
	inner error
}

func (e redactedError) Error() string { return e.msg }
func (e redactedError) Unwrap() error { return e.inner }

func redact(err error, secret string) error {
	if secret == "" {
		return err
	}
	return redactedError{msg: strings.ReplaceAll(err.Error(), secret, "***"), inner: err}
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
