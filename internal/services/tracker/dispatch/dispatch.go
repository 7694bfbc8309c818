// Package dispatch maps completed project transitions to notification
// intents. Building intents is pure; delivery happens elsewhere.
package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cutdesk/cutdesk/internal/project"
	"github.com/cutdesk/cutdesk/internal/services/tracker/storage"
)

// Notification kinds carried by outbox rows and rendered for delivery.
const (
	KindProjectAssigned         = "project.assigned"
	KindProjectAccepted         = "project.accepted"
	KindProjectDeclined         = "project.declined"
	KindProjectStarted          = "project.started"
	KindProjectSubmitted        = "project.submitted"
	KindProjectApproved         = "project.approved"
	KindProjectRejected         = "project.rejected"
	KindProjectPaid             = "project.paid"
	KindProjectDeadlineReminder = "project.deadline_reminder"
	KindProjectOverdue          = "project.overdue"
	KindDeliveryDead            = "delivery.dead"
)

// Intent describes one notification to deliver for a project event.
type Intent struct {
	Kind          string
	RecipientKind storage.RecipientKind
	// RecipientID is a user ID for DMs, a role ID for mentions and a
	// channel ID for plain channel posts.
	RecipientID string
	// ChannelID is the channel a mention or channel post lands in.
	ChannelID string
	Payload   Payload
}

// Payload is the structured project snapshot carried by an intent.
type Payload struct {
	ProjectID         int64      `json:"project_id"`
	Name              string     `json:"name"`
	EditorUserID      string     `json:"editor_user_id,omitempty"`
	EditorDisplayName string     `json:"editor_display_name,omitempty"`
	Rate              string     `json:"rate,omitempty"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	Status            string     `json:"status"`
	ThreadChannelID   string     `json:"thread_channel_id,omitempty"`
	SubmissionLink    string     `json:"submission_link,omitempty"`
	AttachmentURL     string     `json:"attachment_url,omitempty"`
	SubmissionNotes   string     `json:"submission_notes,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	ActorID           string     `json:"actor_id,omitempty"`
}

// JSON serializes the payload for outbox persistence.
func (p Payload) JSON() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal intent payload: %w", err)
	}
	return string(raw), nil
}

// EventKind maps a lifecycle event to its notification kind.
func EventKind(event project.Event) string {
	switch event {
	case project.EventAssign:
		return KindProjectAssigned
	case project.EventAccept:
		return KindProjectAccepted
	case project.EventDecline:
		return KindProjectDeclined
	case project.EventStart:
		return KindProjectStarted
	case project.EventSubmit:
		return KindProjectSubmitted
	case project.EventApprove:
		return KindProjectApproved
	case project.EventReject:
		return KindProjectRejected
	case project.EventMarkPaid:
		return KindProjectPaid
	default:
		return ""
	}
}

// BuildIntents computes the notification fan-out for one completed
// transition.
//
// The prior project carries fields the transition may have cleared, so
// decline notifications still know which editor declined. managerUserIDs is
// the resolved membership of the project's manager role; an empty list drops
// the per-manager DMs but keeps the role mention.
func BuildIntents(prior project.Project, updated project.Project, event project.Event, actorID string, managerUserIDs []string) []Intent {
	kind := EventKind(event)
	if kind == "" {
		return nil
	}

	payload := snapshotPayload(updated, actorID)
	if event == project.EventDecline {
		payload.EditorUserID = prior.Editor.UserID
		payload.EditorDisplayName = prior.Editor.DisplayName
	}

	var intents []Intent
	switch event {
	case project.EventAssign:
		intents = append(intents, Intent{
			Kind:          kind,
			RecipientKind: storage.RecipientKindUserDM,
			RecipientID:   updated.Editor.UserID,
			Payload:       payload,
		})
		intents = append(intents, roleMention(updated, kind, payload)...)
	case project.EventAccept, project.EventDecline, project.EventSubmit:
		intents = append(intents, roleMention(updated, kind, payload)...)
		intents = append(intents, managerDMs(kind, payload, managerUserIDs)...)
	case project.EventStart:
		intents = append(intents, managerDMs(kind, payload, managerUserIDs)...)
	case project.EventApprove, project.EventReject, project.EventMarkPaid:
		intents = append(intents, Intent{
			Kind:          kind,
			RecipientKind: storage.RecipientKindUserDM,
			RecipientID:   updated.Editor.UserID,
			Payload:       payload,
		})
	}
	return intents
}

// BuildDeadlineReminder builds the editor DM for an upcoming deadline.
func BuildDeadlineReminder(p project.Project) Intent {
	return Intent{
		Kind:          KindProjectDeadlineReminder,
		RecipientKind: storage.RecipientKindUserDM,
		RecipientID:   p.Editor.UserID,
		Payload:       snapshotPayload(p, ""),
	}
}

// BuildOverdueIntents builds the editor DM and the channel notice for a
// missed deadline.
func BuildOverdueIntents(p project.Project) []Intent {
	payload := snapshotPayload(p, "")
	intents := []Intent{{
		Kind:          KindProjectOverdue,
		RecipientKind: storage.RecipientKindUserDM,
		RecipientID:   p.Editor.UserID,
		Payload:       payload,
	}}
	intents = append(intents, roleMention(p, KindProjectOverdue, payload)...)
	return intents
}

// BuildDeadLetterAlert builds the fallback DM raised when a notification
// exhausts its delivery retries.
func BuildDeadLetterAlert(notifyUserID string, failed Payload) Intent {
	return Intent{
		Kind:          KindDeliveryDead,
		RecipientKind: storage.RecipientKindUserDM,
		RecipientID:   notifyUserID,
		Payload:       failed,
	}
}

func roleMention(p project.Project, kind string, payload Payload) []Intent {
	if p.ManagerRoleID == "" || p.ThreadChannelID == "" {
		return nil
	}
	return []Intent{{
		Kind:          kind,
		RecipientKind: storage.RecipientKindRoleMention,
		RecipientID:   p.ManagerRoleID,
		ChannelID:     p.ThreadChannelID,
		Payload:       payload,
	}}
}

func managerDMs(kind string, payload Payload, managerUserIDs []string) []Intent {
	intents := make([]Intent, 0, len(managerUserIDs))
	for _, userID := range managerUserIDs {
		if userID == "" {
			continue
		}
		intents = append(intents, Intent{
			Kind:          kind,
			RecipientKind: storage.RecipientKindUserDM,
			RecipientID:   userID,
			Payload:       payload,
		})
	}
	return intents
}

func snapshotPayload(p project.Project, actorID string) Payload {
	payload := Payload{
		ProjectID:         p.ID,
		Name:              p.Name,
		EditorUserID:      p.Editor.UserID,
		EditorDisplayName: p.Editor.DisplayName,
		Rate:              p.Rate,
		Deadline:          p.Deadline,
		Status:            project.StatusLabel(p.Status),
		ThreadChannelID:   p.ThreadChannelID,
		RejectionReason:   p.RejectionReason,
		ActorID:           actorID,
	}
	if p.Submission != nil {
		payload.SubmissionLink = p.Submission.Link
		payload.AttachmentURL = p.Submission.AttachmentURL
		payload.SubmissionNotes = p.Submission.Notes
	}
	return payload
}
