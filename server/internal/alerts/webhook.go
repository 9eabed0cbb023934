package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tillu/branchbus/pkg/events"
)

// deliver posts a to every webhook whose min_severity it meets.
// Errors are logged and otherwise ignored.
func (e *Engine) deliver(a *Alert) {
	e.mu.Lock()
	hooks := e.webhooks
	e.mu.Unlock()

	for _, wh := range hooks {
		floor := events.Severity(wh.MinSeverity)
		if floor == "" {
			floor = events.SeverityCritical
		}
		if a.Severity.Rank() < floor.Rank() {
			continue
		}
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = e.sendSlack(url, a)
		case "teams":
			err = e.sendTeams(url, a)
		case "http":
			err = e.sendHTTP(url, a)
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "item", a.ItemID, "err", err)
		} else {
			slog.Debug("alerts: webhook delivered",
				"type", wh.Type, "item", a.ItemID, "state", a.State)
		}
	}
}

func (e *Engine) text(a *Alert) string {
	if a.State == "resolved" {
		return fmt.Sprintf("Branch %s: %s restocked (%g on hand)", a.BranchID, itemLabel(a), a.CurrentStock)
	}
	return fmt.Sprintf("Branch %s: %s", a.BranchID, a.Message)
}

func (e *Engine) sendSlack(url string, a *Alert) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", severityLabel(a), e.text(a)),
	})
	return e.post(url, body)
}

func (e *Engine) sendTeams(url string, a *Alert) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a),
		"summary":    itemLabel(a),
		"title":      fmt.Sprintf("Inventory alert: %s", itemLabel(a)),
		"text":       e.text(a),
	}
	body, _ := json.Marshal(payload)
	return e.post(url, body)
}

func (e *Engine) sendHTTP(url string, a *Alert) error {
	body, _ := json.Marshal(map[string]interface{}{"alert": a})
	return e.post(url, body)
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func itemLabel(a *Alert) string {
	if a.ItemName != "" {
		return a.ItemName
	}
	return a.ItemID
}

func severityLabel(a *Alert) string {
	if a.State == "resolved" {
		return "[RESOLVED]"
	}
	switch a.Severity {
	case events.SeverityCritical:
		return "[CRITICAL]"
	case events.SeverityWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(a *Alert) string {
	if a.State == "resolved" {
		return "2EB67D"
	}
	switch a.Severity {
	case events.SeverityCritical:
		return "FF4F6A"
	case events.SeverityWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
