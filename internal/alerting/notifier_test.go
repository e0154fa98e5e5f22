package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"time26-oracle/internal/settlement"
)

func discrepancy() Notification {
	v := settlement.Verify(settlement.Balances{
		InitialDeposit:  uint256.NewInt(1000),
		ContractBalance: uint256.NewInt(500),
		TotalBurned:     uint256.NewInt(100),
		TotalClaimed:    uint256.NewInt(300),
	}, nil)
	return Notification{Day: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), BlockNumber: 77, Verification: v}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), discrepancy()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id mismatch: %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "Day: 2026-10-01") || !strings.Contains(text, "Difference: 100 wei") {
		t.Fatalf("unexpected message %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), discrepancy()); err == nil {
		t.Fatal("ok=false should fail")
	}
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(context.Context, Notification) error {
	c.calls++
	return c.err
}

func TestDispatcherCooldown(t *testing.T) {
	first := &countingNotifier{}
	failing := &countingNotifier{err: errors.New("down")}
	d := NewDispatcher(time.Hour, testLogger(), first, failing)
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	d.clock = func() time.Time { return now }

	if err := d.Notify(context.Background(), discrepancy()); err == nil {
		t.Fatal("expected joined error from failing notifier")
	}
	if first.calls != 1 || failing.calls != 1 {
		t.Fatalf("every notifier should be called once: %d %d", first.calls, failing.calls)
	}

	now = now.Add(30 * time.Minute)
	if err := d.Notify(context.Background(), discrepancy()); err != nil {
		t.Fatalf("suppressed notify should not fail: %v", err)
	}
	if first.calls != 1 {
		t.Fatal("notification inside cooldown should be suppressed")
	}

	now = now.Add(time.Hour)
	_ = d.Notify(context.Background(), discrepancy())
	if first.calls != 2 {
		t.Fatal("notification after cooldown should be delivered")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestDispatcherFailedSendDoesNotStartCooldown(t *testing.T) {
	failing := &countingNotifier{err: errors.New("telegram down")}
	d := NewDispatcher(time.Hour, testLogger(), failing)
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	d.clock = func() time.Time { return now }

	if err := d.Notify(context.Background(), discrepancy()); err == nil {
		t.Fatal("expected delivery error")
	}
	failing.err = nil
	now = now.Add(time.Minute)
	if err := d.Notify(context.Background(), discrepancy()); err != nil {
		t.Fatalf("retry should be delivered: %v", err)
	}
	if failing.calls != 2 {
		t.Fatalf("retry after a failed send must not be suppressed, calls=%d", failing.calls)
	}
}

func TestDispatcherCooldownIsPerDay(t *testing.T) {
	sink := &countingNotifier{}
	d := NewDispatcher(6*time.Hour, testLogger(), sink)
	now := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	d.clock = func() time.Time { return now }

	first := discrepancy()
	second := discrepancy()
	second.Day = first.Day.AddDate(0, 0, 1)

	for _, note := range []Notification{first, second, first} {
		if err := d.Notify(context.Background(), note); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	if sink.calls != 2 {
		t.Fatalf("each invalid day should alert once, got %d deliveries", sink.calls)
	}
}
