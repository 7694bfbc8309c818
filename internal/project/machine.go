package project

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/cutdesk/cutdesk/internal/platform/errors"
)

// actorRule tags who may trigger an event.
type actorRule int

const (
	actorManager actorRule = iota + 1
	actorAssignedEditor
)

// transitionRule describes one row of the lifecycle transition table.
type transitionRule struct {
	from  []Status
	to    Status
	actor actorRule
}

// transitionRules is the complete lifecycle table. Legality checks read this
// data; Apply holds only the per-event mutations.
var transitionRules = map[Event]transitionRule{
	EventAssign:   {from: []Status{StatusUnassigned}, to: StatusAssigned, actor: actorManager},
	EventAccept:   {from: []Status{StatusAssigned}, to: StatusAgreed, actor: actorAssignedEditor},
	EventDecline:  {from: []Status{StatusAssigned}, to: StatusUnassigned, actor: actorAssignedEditor},
	EventStart:    {from: []Status{StatusAgreed}, to: StatusInProgress, actor: actorAssignedEditor},
	EventSubmit:   {from: []Status{StatusInProgress, StatusChangesRequested}, to: StatusSubmitted, actor: actorAssignedEditor},
	EventApprove:  {from: []Status{StatusSubmitted}, to: StatusApproved, actor: actorManager},
	EventReject:   {from: []Status{StatusSubmitted}, to: StatusChangesRequested, actor: actorManager},
	EventMarkPaid: {from: []Status{StatusApproved}, to: StatusApproved, actor: actorManager},
}

// TransitionInput describes an intent applied against a project.
type TransitionInput struct {
	Event   Event
	ActorID string
	// Editor is the assignment target; required for assign.
	Editor *EditorRef
	// Rate replaces the project rate on assign when non-empty.
	Rate string
	// ThreadChannelID sets the discussion channel on first assignment.
	ThreadChannelID string
	// Submission is the deliverable; required for submit.
	Submission *Submission
	// Reason is required for reject.
	Reason string
}

// TransitionResult reports the outcome of a successful Apply.
type TransitionResult struct {
	Project Project
	Prior   Status
	Next    Status
	// Changed is false only for the idempotent mark_paid no-op; when false
	// no history entry is recorded and no notifications are produced.
	Changed bool
	History HistoryEntry
}

// Apply validates and applies one lifecycle event against a project.
//
// Apply is pure: it never mutates its arguments and performs no IO. Role
// membership is delegated to the injected isManager predicate; editor
// identity is checked against the project's assigned editor. On success the
// returned project carries the new status and the history entry to append.
func Apply(p Project, input TransitionInput, isManager func(actorID string) bool, now func() time.Time) (TransitionResult, error) {
	if now == nil {
		now = time.Now
	}
	if isManager == nil {
		isManager = func(string) bool { return false }
	}

	rule, ok := transitionRules[input.Event]
	if !ok {
		return TransitionResult{}, apperrors.WithMetadata(
			apperrors.CodeProjectInvalidTransition,
			fmt.Sprintf("unknown project event %q", EventLabel(input.Event)),
			map[string]string{"Event": EventLabel(input.Event)},
		)
	}

	if !statusIn(p.Status, rule.from) {
		return TransitionResult{}, invalidTransition(p.Status, input.Event, rule)
	}

	if err := checkActor(p, input, rule, isManager); err != nil {
		return TransitionResult{}, err
	}

	if err := checkPayload(p, input); err != nil {
		return TransitionResult{}, err
	}

	prior := p.Status
	updated := p
	updatedAt := now().UTC()

	switch input.Event {
	case EventAssign:
		updated.Editor = *input.Editor
		if rate := strings.TrimSpace(input.Rate); rate != "" {
			updated.Rate = rate
		}
		if thread := strings.TrimSpace(input.ThreadChannelID); thread != "" {
			if updated.ThreadChannelID != "" && updated.ThreadChannelID != thread {
				return TransitionResult{}, apperrors.New(
					apperrors.CodeProjectThreadImmutable,
					"project thread channel is immutable once set",
				)
			}
			updated.ThreadChannelID = thread
		}
	case EventDecline:
		updated.Editor = EditorRef{}
	case EventSubmit:
		submission := *input.Submission
		submission.SubmittedAt = updatedAt
		updated.Submission = &submission
		updated.RejectionReason = ""
	case EventReject:
		updated.RejectionReason = strings.TrimSpace(input.Reason)
	case EventMarkPaid:
		if p.Paid {
			return TransitionResult{
				Project: p,
				Prior:   prior,
				Next:    prior,
				Changed: false,
			}, nil
		}
		updated.Paid = true
	}

	updated.Status = rule.to
	updated.UpdatedAt = updatedAt

	return TransitionResult{
		Project: updated,
		Prior:   prior,
		Next:    rule.to,
		Changed: true,
		History: HistoryEntry{
			ProjectID: updated.ID,
			Event:     input.Event,
			Status:    rule.to,
			ActorID:   input.ActorID,
			CreatedAt: updatedAt,
		},
	}, nil
}

func checkActor(p Project, input TransitionInput, rule transitionRule, isManager func(string) bool) error {
	switch rule.actor {
	case actorManager:
		if !isManager(input.ActorID) {
			return apperrors.WithMetadata(
				apperrors.CodeProjectUnauthorized,
				fmt.Sprintf("%s requires the manager role", EventLabel(input.Event)),
				map[string]string{"Event": EventLabel(input.Event), "ActorID": input.ActorID},
			)
		}
	case actorAssignedEditor:
		if p.Editor.UserID == "" || input.ActorID != p.Editor.UserID {
			return apperrors.WithMetadata(
				apperrors.CodeProjectUnauthorized,
				fmt.Sprintf("%s requires the assigned editor", EventLabel(input.Event)),
				map[string]string{"Event": EventLabel(input.Event), "ActorID": input.ActorID},
			)
		}
	}
	return nil
}

func checkPayload(p Project, input TransitionInput) error {
	switch input.Event {
	case EventAssign:
		if input.Editor == nil || strings.TrimSpace(input.Editor.UserID) == "" {
			return apperrors.New(apperrors.CodeProjectEditorRequired, "assign requires an editor reference")
		}
		if strings.TrimSpace(input.Rate) == "" && strings.TrimSpace(p.Rate) == "" {
			return apperrors.New(apperrors.CodeProjectMissingData, "assign requires a rate")
		}
	case EventSubmit:
		if input.Submission == nil || input.Submission.Empty() {
			return apperrors.New(apperrors.CodeProjectMissingData, "submit requires a link or attachment")
		}
	case EventReject:
		if strings.TrimSpace(input.Reason) == "" {
			return apperrors.New(apperrors.CodeProjectMissingData, "reject requires a reason")
		}
	}
	return nil
}

func invalidTransition(from Status, event Event, rule transitionRule) error {
	fromLabels := make([]string, 0, len(rule.from))
	for _, status := range rule.from {
		fromLabels = append(fromLabels, StatusLabel(status))
	}
	return apperrors.WithMetadata(
		apperrors.CodeProjectInvalidTransition,
		fmt.Sprintf("%s is not allowed from %s (requires %s)",
			EventLabel(event), StatusLabel(from), strings.Join(fromLabels, " or ")),
		map[string]string{
			"Event":      EventLabel(event),
			"FromStatus": StatusLabel(from),
			"ToStatus":   StatusLabel(rule.to),
		},
	)
}

func statusIn(status Status, set []Status) bool {
	for _, candidate := range set {
		if status == candidate {
			return true
		}
	}
	return false
}
