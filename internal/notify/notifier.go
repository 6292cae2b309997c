package notify

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

const maxHistoryLen = 200

// Notification is one delivered (or suppressed-by-nothing) notification event.
type Notification struct {
	DeviceID  string    `json:"device_id"`
	Kind      string    `json:"kind"`
	Severity  float64   `json:"severity"`
	Message   string    `json:"message"`
	SentAt    time.Time `json:"sent_at"`
}

// Notifier filters insights by severity and forwards the survivors to every
// configured webhook. Safe for concurrent use. A Notifier with no webhooks is
// valid; Evaluate becomes a no-op.
type Notifier struct {
	mu       sync.Mutex
	cfg      config.NotifyConfig
	lastSent map[string]time.Time // key: "deviceID:kind"
	history  []Notification

	client *http.Client
	now    func() time.Time
}

// New creates a Notifier from configuration.
func New(cfg config.NotifyConfig) *Notifier {
	return &Notifier{
		cfg:      cfg,
		lastSent: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// Evaluate decides whether in warrants a notification and, if so, delivers it
// asynchronously. Deliveries for the same (device, kind) are suppressed for
// the cooldown period.
func (n *Notifier) Evaluate(in telemetry.Insight) {
	key := in.DeviceID + ":" + string(in.Kind)
	now := n.now()

	n.mu.Lock()
	if len(n.cfg.Webhooks) == 0 || in.Severity < n.cfg.MinSeverity {
		n.mu.Unlock()
		return
	}
	if now.Sub(n.lastSent[key]) <= n.cfg.Cooldown {
		n.mu.Unlock()
		return
	}
	n.lastSent[key] = now
	webhooks := n.cfg.Webhooks

	note := Notification{
		DeviceID: in.DeviceID,
		Kind:     string(in.Kind),
		Severity: in.Severity,
		Message:  fmt.Sprintf("%s on %s: %s (severity %.2f)", in.Kind, in.DeviceID, in.Summary, in.Severity),
		SentAt:   now,
	}
	n.history = append(n.history, note)
	if len(n.history) > maxHistoryLen {
		n.history = n.history[len(n.history)-maxHistoryLen:]
	}
	n.mu.Unlock()

	go n.deliver(webhooks, note)
}

// SetConfig swaps the severity threshold, cooldown, and webhook targets.
// Called on config reload; in-flight deliveries keep the targets they started
// with.
func (n *Notifier) SetConfig(cfg config.NotifyConfig) {
	n.mu.Lock()
	n.cfg = cfg
	n.mu.Unlock()
}

// Recent returns the delivered notifications, newest last.
func (n *Notifier) Recent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.history))
	copy(out, n.history)
	return out
}
