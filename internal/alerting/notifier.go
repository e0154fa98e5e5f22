package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"time26-oracle/internal/fixedpoint"
	"time26-oracle/internal/settlement"
)

// Notification carries a failed settlement verification.
type Notification struct {
	Day           time.Time
	BlockNumber   uint64
	Verification  settlement.Verification
	Channels      []string
	AdditionalMsg string
}

// Notifier delivers discrepancy notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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

// Notify calls sendMessage with the rendered discrepancy.
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
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return errors.New("telegram returned ok=false")
	}

	n.logger.Info().Time("day", note.Day).
		Str("difference_wei", note.Verification.Difference.String()).
		Msg("discrepancy alert sent")
	return nil
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the discrepancy at error level.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	v := note.Verification
	n.logger.Error().
		Time("day", note.Day).
		Uint64("block", note.BlockNumber).
		Str("initial_deposit", v.InitialDeposit.Dec()).
		Str("accounted", v.Accounted.String()).
		Str("difference_wei", v.Difference.String()).
		Msg("settlement discrepancy")
	return nil
}

// Dispatcher fans a notification out to every notifier. Repeats for the same day
// are suppressed within the cooldown once a delivery has succeeded.
type Dispatcher struct {
	notifiers []Notifier
	cooldown  time.Duration
	clock     func() time.Time
	logger    zerolog.Logger

	mu   sync.Mutex
	last map[time.Time]time.Time
}

// NewDispatcher builds a dispatcher over the given notifiers.
func NewDispatcher(cooldown time.Duration, logger zerolog.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		cooldown:  cooldown,
		clock:     time.Now,
		logger:    logger.With().Str("component", "alert_dispatcher").Logger(),
		last:      make(map[time.Time]time.Time),
	}
}

// Notify delivers to all notifiers and joins their errors.
func (d *Dispatcher) Notify(ctx context.Context, note Notification) error {
	if d == nil || len(d.notifiers) == 0 {
		return nil
	}

	day := note.Day.UTC()
	d.mu.Lock()
	now := d.clock()
	if sent, ok := d.last[day]; ok && d.cooldown > 0 && now.Sub(sent) < d.cooldown {
		d.mu.Unlock()
		d.logger.Debug().Time("day", note.Day).Msg("alert suppressed by cooldown")
		return nil
	}
	d.mu.Unlock()

	var errs []error
	delivered := false
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered = true
	}

	if delivered {
		d.mu.Lock()
		d.last[day] = now
		d.mu.Unlock()
	}
	return errors.Join(errs...)
}

func renderMessage(note Notification) string {
	v := note.Verification
	builder := strings.Builder{}
	builder.WriteString("[TIME26 Settlement Alert]\n")
	builder.WriteString(fmt.Sprintf("Day: %s UTC\n", note.Day.UTC().Format("2006-01-02")))
	if note.BlockNumber > 0 {
		builder.WriteString(fmt.Sprintf("Block: %d\n", note.BlockNumber))
	}
	builder.WriteString(fmt.Sprintf("Initial deposit: %s TIME26\n", fixedpoint.Format(v.InitialDeposit, 6)))
	builder.WriteString(fmt.Sprintf("Contract balance: %s TIME26\n", fixedpoint.Format(v.ContractBalance, 6)))
	builder.WriteString(fmt.Sprintf("Burned: %s TIME26\n", fixedpoint.Format(v.TotalBurned, 6)))
	builder.WriteString(fmt.Sprintf("Claimed: %s TIME26\n", fixedpoint.Format(v.TotalClaimed, 6)))
	builder.WriteString(fmt.Sprintf("Difference: %s wei (tolerance %s)\n", v.Difference.String(), v.Tolerance.Dec()))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Dispatcher)(nil)
)
