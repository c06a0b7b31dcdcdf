package slack

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/minewatch/minewatch/internal/database"
	"github.com/minewatch/minewatch/internal/models"
	"github.com/minewatch/minewatch/internal/utils"
)

const maxSummaryLen = 280

// severityEmoji returns the emoji shown next to an alert tier
func severityEmoji(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return ":rotating_light:"
	case models.SeverityHigh:
		return ":warning:"
	case models.SeverityMedium:
		return ":large_yellow_circle:"
	default:
		return ":information_source:"
	}
}

// alertFallback is the plain text shown in notifications
func alertFallback(alert *database.Alert, d *database.Detection) string {
	return fmt.Sprintf("%s alert: %s (confidence %.2f, %.1f ha)",
		alert.Severity, alert.Name, d.ConfidenceScore, d.AreaHectares)
}

// alertBlocks renders an alert and its detection as Block Kit sections
func alertBlocks(alert *database.Alert, d *database.Detection) []slack.Block {
	header := fmt.Sprintf("%s *%s ALERT* %s", severityEmoji(alert.Severity), alert.Severity, alert.Name)

	var details strings.Builder
	details.WriteString(fmt.Sprintf("*Confidence:* %.2f (anomaly %.2f, model %.2f)\n",
		d.ConfidenceScore, d.AnomalyConfidence, d.MLScore))
	details.WriteString(fmt.Sprintf("*Estimated area:* %.1f ha\n", d.AreaHectares))
	details.WriteString(fmt.Sprintf("*Location:* %.4f, %.4f\n", d.Latitude, d.Longitude))
	details.WriteString(fmt.Sprintf("*Type:* %s", strings.ReplaceAll(string(alert.Type), "_", " ")))
	if alert.Message != "" {
		details.WriteString("\n" + utils.TruncateText(alert.Message, maxSummaryLen))
	}

	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, header, false, false), nil, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, details.String(), false, false), nil, nil),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("Detection %d · alert %d · %s", d.ID, alert.ID, alert.SentAt.Format("2006-01-02 15:04 MST")),
				false, false)),
	}
}
