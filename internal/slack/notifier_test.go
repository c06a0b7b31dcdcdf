package slack

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/models"
)

var postMessageURL = regexp.MustCompile(`^https://slack\.com/api/chat\.postMessage`)

func testAlert() (*database.Alert, *database.Detection) {
	d := &database.Detection{
		ID:                7,
		Latitude:          8.0402,
		Longitude:         -2.8,
		AnomalyConfidence: 0.38,
		MLScore:           1.0,
		ConfidenceScore:   0.628,
		AreaHectares:      40,
	}
	a := &database.Alert{
		ID:          3,
		DetectionID: d.ID,
		Name:        "Mining detection - 2025-03-14",
		Severity:    models.SeverityHigh,
		Type:        database.AlertTypeSuspiciousActivity,
		SentAt:      time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	return a, d
}

func TestNewNotifier_DisabledWithoutConfig(t *testing.T) {
	if n := NewNotifier("", "C01234567890"); n != nil {
		t.Error("expected nil notifier without token")
	}
	if n := NewNotifier("xoxb-test", ""); n != nil {
		t.Error("expected nil notifier without channel")
	}

	var n *Notifier
	a, d := testAlert()
	if err := n.NotifyAlert(context.Background(), a, d); err != nil {
		t.Errorf("nil notifier must be a no-op, got %v", err)
	}
}

func TestNotifier_PostsAlert(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	var channel, text, blocks string
	httpmock.RegisterRegexpResponder(http.MethodPost, postMessageURL,
		func(req *http.Request) (*http.Response, error) {
			channel = req.FormValue("channel")
			text = req.FormValue("text")
			blocks = req.FormValue("blocks")
			return httpmock.NewStringResponse(http.StatusOK, `{"ok":true,"channel":"C01234567890","ts":"1710410400.000100"}`), nil
		})

	a, d := testAlert()
	n := NewNotifier("xoxb-test", "C01234567890")
	if err := n.NotifyAlert(context.Background(), a, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if channel != "C01234567890" {
		t.Errorf("posted to %q", channel)
	}
	if !strings.Contains(text, "HIGH alert") || !strings.Contains(text, "confidence 0.63") {
		t.Errorf("unexpected fallback text %q", text)
	}
	for _, want := range []string{"HIGH ALERT", "40.0 ha", "8.0402, -2.8000", "SUSPICIOUS ACTIVITY"} {
		if !strings.Contains(blocks, want) {
			t.Errorf("blocks missing %q: %s", want, blocks)
		}
	}
}

func TestNotifier_ReportsSlackErrors(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterRegexpResponder(http.MethodPost, postMessageURL,
		httpmock.NewStringResponder(http.StatusOK, `{"ok":false,"error":"channel_not_found"}`))

	a, d := testAlert()
	err := NewNotifier("xoxb-test", "C01234567890").NotifyAlert(context.Background(), a, d)
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("expected channel_not_found error, got %v", err)
	}
}

func TestSeverityEmoji(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range []models.Severity{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow} {
		e := severityEmoji(s)
		if e == "" || seen[e] {
			t.Errorf("severity %s needs a distinct emoji, got %q", s, e)
		}
		seen[e] = true
	}
}
