package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labwatch/labwatch/internal/config"
)

// deliver sends note to every configured target. Errors are logged but never
// affect the caller.
func (n *Notifier) deliver(webhooks []config.WebhookConfig, note Notification) {
	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = n.sendSlack(url, note)
		case "teams":
			err = n.sendTeams(url, note)
		case "http":
			err = n.sendHTTP(url, note)
		default:
			slog.Warn("notify: unknown webhook type — skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("notify: webhook delivery failed",
				"type", wh.Type,
				"device", note.DeviceID,
				"err", err,
			)
		} else {
			slog.Debug("notify: webhook delivered",
				"type", wh.Type,
				"device", note.DeviceID,
				"kind", note.Kind,
			)
		}
	}
}

func (n *Notifier) sendSlack(url string, note Notification) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", severityLabel(note.Severity), note.Message),
	})
	return n.post(url, body)
}

func (n *Notifier) sendTeams(url string, note Notification) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(note.Severity),
		"summary":    note.Kind,
		"title":      fmt.Sprintf("LabWatch: %s on %s", note.Kind, note.DeviceID),
		"text":       note.Message,
	}
	body, _ := json.Marshal(payload)
	return n.post(url, body)
}

func (n *Notifier) sendHTTP(url string, note Notification) error {
	body, _ := json.Marshal(map[string]interface{}{"notification": note})
	return n.post(url, body)
}

func (n *Notifier) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s float64) string {
	switch {
	case s >= 6:
		return "[CRITICAL]"
	case s >= 3:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s float64) string {
	switch {
	case s >= 6:
		return "FF4F6A"
	case s >= 3:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
