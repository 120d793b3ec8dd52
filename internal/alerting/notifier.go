package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification carries a coverage breach.
type Notification struct {
	ProducerID        string
	ProducerName      string
	StatDate          string
	Level             string
	Ratio             float64
	MarginCallLine    float64
	LiquidationLine   float64
	Baseline          float64
	Value             decimal.Decimal
	Loan              decimal.Decimal
	ReportingCurrency string
	Channels          []string
	AttemptID         string
	AdditionalMsg     string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered text with sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("producer_id", note.ProducerID).
		Str("level", note.Level).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("coverage alert sent (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	name := note.ProducerID
	if note.ProducerName != "" && note.ProducerName != note.ProducerID {
		name = fmt.Sprintf("%s (%s)", note.ProducerName, note.ProducerID)
	}
	builder := strings.Builder{}
	builder.WriteString("[Coverage Alert]\n")
	builder.WriteString(fmt.Sprintf("Producer: %s\n", name))
	if note.StatDate != "" {
		builder.WriteString(fmt.Sprintf("As of: %s\n", note.StatDate))
	}
	builder.WriteString(fmt.Sprintf("Level: %s\n", strings.ToUpper(strings.ReplaceAll(note.Level, "_", " "))))
	builder.WriteString(fmt.Sprintf("Coverage: %.4fx (margin call %.2fx, liquidation %.2fx, baseline %.2fx)\n",
		note.Ratio, note.MarginCallLine, note.LiquidationLine, note.Baseline))
	builder.WriteString(fmt.Sprintf("Value / Loan: %s / %s %s\n", note.Value.StringFixed(2), note.Loan.StringFixed(2), note.ReportingCurrency))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AttemptID != "" {
		builder.WriteString(fmt.Sprintf("Refresh: %s\n", note.AttemptID))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
