package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

type capture struct {
	mu     sync.Mutex
	bodies []string
}

func (c *capture) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.bodies = append(c.bodies, string(body))
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func (c *capture) waitFor(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("deliveries = %d, want %d", c.count(), want)
}

func newNotifier(t *testing.T, minSeverity float64, cooldown time.Duration) (*Notifier, *capture) {
	t.Helper()
	sink := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(sink.handler))
	t.Cleanup(srv.Close)

	t.Setenv("LABWATCH_TEST_WEBHOOK", srv.URL)
	n := New(config.NotifyConfig{
		MinSeverity: minSeverity,
		Cooldown:    cooldown,
		Webhooks:    []config.WebhookConfig{{Type: "http", URLEnv: "LABWATCH_TEST_WEBHOOK"}},
	})
	n.client = srv.Client()
	return n, sink
}

func driftInsight(severity float64) telemetry.Insight {
	return telemetry.Insight{
		DeviceID:  "scope1",
		Timestamp: time.Now(),
		Kind:      telemetry.KindDrift,
		Severity:  severity,
		Summary:   "voltage drifted from baseline",
		Channels:  []string{"voltage"},
	}
}

func TestNotifier_DeliversAboveThreshold(t *testing.T) {
	n, sink := newNotifier(t, 3, time.Minute)

	n.Evaluate(driftInsight(5.0))
	sink.waitFor(t, 1)

	var payload struct {
		Notification Notification `json:"notification"`
	}
	if err := json.Unmarshal([]byte(sink.bodies[0]), &payload); err != nil {
		t.Fatalf("unmarshal delivery: %v", err)
	}
	if payload.Notification.DeviceID != "scope1" {
		t.Errorf("device = %q, want scope1", payload.Notification.DeviceID)
	}
	if payload.Notification.Kind != "drift" {
		t.Errorf("kind = %q, want drift", payload.Notification.Kind)
	}
}

func TestNotifier_BelowThresholdIgnored(t *testing.T) {
	n, sink := newNotifier(t, 3, time.Minute)

	n.Evaluate(driftInsight(1.0))
	time.Sleep(50 * time.Millisecond)

	if got := sink.count(); got != 0 {
		t.Fatalf("deliveries = %d, want 0 below the severity threshold", got)
	}
}

func TestNotifier_CooldownSuppressesRepeats(t *testing.T) {
	n, sink := newNotifier(t, 3, time.Hour)

	n.Evaluate(driftInsight(5.0))
	n.Evaluate(driftInsight(6.0))
	n.Evaluate(driftInsight(7.0))
	sink.waitFor(t, 1)
	time.Sleep(50 * time.Millisecond)

	if got := sink.count(); got != 1 {
		t.Fatalf("deliveries = %d, want 1 within the cooldown", got)
	}
	if got := len(n.Recent()); got != 1 {
		t.Fatalf("Recent() = %d entries, want 1", got)
	}
}

func TestNotifier_DistinctKindsNotSuppressed(t *testing.T) {
	n, sink := newNotifier(t, 3, time.Hour)

	n.Evaluate(driftInsight(5.0))
	anom := driftInsight(5.0)
	anom.Kind = telemetry.KindAnomaly
	n.Evaluate(anom)

	sink.waitFor(t, 2)
}

func TestNotifier_NoWebhooksIsNoop(t *testing.T) {
	n := New(config.NotifyConfig{MinSeverity: 3, Cooldown: time.Minute})
	n.Evaluate(driftInsight(9.0)) // must not panic or block
	if got := len(n.Recent()); got != 0 {
		t.Fatalf("Recent() = %d entries, want 0", got)
	}
}
