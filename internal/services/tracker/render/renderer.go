// Package render turns queued notification intents into localized message
// copy for the chat gateway.
package render

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/message"

	"github.com/cutdesk/cutdesk/internal/services/tracker/dispatch"
)

const (
	defaultGenericTitle = "Project update"
	defaultGenericBody  = "A tracked project changed."
)

// Input is one render request for a queued notification.
type Input struct {
	Kind        string
	PayloadJSON string
}

// Output is localized copy derived from one queued notification.
type Output struct {
	Title    string
	BodyText string
}

// Localizer is the minimal message-printer contract required by the renderer.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// Render returns localized copy for one queued notification.
func Render(loc Localizer, input Input) Output {
	payload := dispatch.Payload{}
	if raw := strings.TrimSpace(input.PayloadJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return genericOutput(loc)
		}
	}

	switch strings.TrimSpace(input.Kind) {
	case dispatch.KindProjectAssigned:
		return output(loc, "tracker.project_assigned.title",
			localize(loc, "tracker.project_assigned.body", payload.Name, payload.ProjectID, payload.Rate))
	case dispatch.KindProjectAccepted:
		return output(loc, "tracker.project_accepted.title",
			localize(loc, "tracker.project_accepted.body", displayName(payload), payload.Name, payload.ProjectID))
	case dispatch.KindProjectDeclined:
		return output(loc, "tracker.project_declined.title",
			localize(loc, "tracker.project_declined.body", displayName(payload), payload.Name, payload.ProjectID))
	case dispatch.KindProjectStarted:
		return output(loc, "tracker.project_started.title",
			localize(loc, "tracker.project_started.body", displayName(payload), payload.Name, payload.ProjectID))
	case dispatch.KindProjectSubmitted:
		body := localize(loc, "tracker.project_submitted.body", displayName(payload), payload.Name, payload.ProjectID, submissionRef(payload))
		if notes := strings.TrimSpace(payload.SubmissionNotes); notes != "" {
			body += " " + localize(loc, "tracker.project_submitted.notes", notes)
		}
		return output(loc, "tracker.project_submitted.title", body)
	case dispatch.KindProjectApproved:
		return output(loc, "tracker.project_approved.title",
			localize(loc, "tracker.project_approved.body", payload.Name, payload.ProjectID))
	case dispatch.KindProjectRejected:
		return output(loc, "tracker.project_rejected.title",
			localize(loc, "tracker.project_rejected.body", payload.Name, payload.ProjectID, payload.RejectionReason))
	case dispatch.KindProjectPaid:
		return output(loc, "tracker.project_paid.title",
			localize(loc, "tracker.project_paid.body", payload.Name, payload.ProjectID, payload.Rate))
	case dispatch.KindProjectDeadlineReminder:
		return output(loc, "tracker.project_deadline_reminder.title",
			localize(loc, "tracker.project_deadline_reminder.body", payload.Name, payload.ProjectID, deadlineText(payload)))
	case dispatch.KindProjectOverdue:
		return output(loc, "tracker.project_overdue.title",
			localize(loc, "tracker.project_overdue.body", payload.Name, payload.ProjectID, deadlineText(payload)))
	case dispatch.KindDeliveryDead:
		return output(loc, "tracker.delivery_dead.title",
			localize(loc, "tracker.delivery_dead.body", payload.Name, payload.ProjectID))
	default:
		return genericOutput(loc)
	}
}

func output(loc Localizer, titleKey string, body string) Output {
	return Output{
		Title:    localizeWithFallback(loc, titleKey, defaultGenericTitle),
		BodyText: body,
	}
}

func genericOutput(loc Localizer) Output {
	return Output{
		Title:    localizeWithFallback(loc, "tracker.generic.title", defaultGenericTitle),
		BodyText: localizeWithFallback(loc, "tracker.generic.body", defaultGenericBody),
	}
}

func displayName(payload dispatch.Payload) string {
	if name := strings.TrimSpace(payload.EditorDisplayName); name != "" {
		return name
	}
	return payload.EditorUserID
}

func submissionRef(payload dispatch.Payload) string {
	if link := strings.TrimSpace(payload.SubmissionLink); link != "" {
		return link
	}
	return payload.AttachmentURL
}

func deadlineText(payload dispatch.Payload) string {
	if payload.Deadline == nil {
		return ""
	}
	return payload.Deadline.UTC().Format("2006-01-02 15:04 MST")
}

func localize(loc Localizer, key message.Reference, args ...any) string {
	if loc == nil {
		if asString, ok := key.(string); ok {
			return asString
		}
		return ""
	}
	return loc.Sprintf(key, args...)
}

func localizeWithFallback(loc Localizer, key string, fallback string) string {
	value := strings.TrimSpace(localize(loc, key))
	if value == "" || value == key {
		return fallback
	}
	return value
}
