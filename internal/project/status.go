package project

// Status describes the lifecycle position of a project.
type Status int

const (
	// StatusUnspecified represents an invalid project status value.
	StatusUnspecified Status = iota
	// StatusUnassigned indicates the project has no editor yet.
	StatusUnassigned
	// StatusAssigned indicates an editor was proposed and has not answered.
	StatusAssigned
	// StatusAgreed indicates the assigned editor accepted the project.
	StatusAgreed
	// StatusInProgress indicates the editor started working.
	StatusInProgress
	// StatusChangesRequested indicates a manager rejected the last submission.
	StatusChangesRequested
	// StatusSubmitted indicates work was handed in for review.
	StatusSubmitted
	// StatusApproved indicates a manager accepted the submission.
	StatusApproved
)

// Event identifies an intent applied against a project.
type Event int

const (
	// EventUnspecified represents an invalid event value.
	EventUnspecified Event = iota
	// EventAssign proposes the project to an editor.
	EventAssign
	// EventAccept records the assigned editor taking the project.
	EventAccept
	// EventDecline returns the project to the unassigned pool.
	EventDecline
	// EventStart records the editor beginning work.
	EventStart
	// EventSubmit hands work in for review.
	EventSubmit
	// EventApprove accepts the submitted work.
	EventApprove
	// EventReject sends the submitted work back with a reason.
	EventReject
	// EventMarkPaid records payment for approved work.
	EventMarkPaid
)

// StatusLabel returns a stable label for a project status.
func StatusLabel(status Status) string {
	switch status {
	case StatusUnassigned:
		return "unassigned"
	case StatusAssigned:
		return "assigned"
	case StatusAgreed:
		return "agreed"
	case StatusInProgress:
		return "in_progress"
	case StatusChangesRequested:
		return "changes_requested"
	case StatusSubmitted:
		return "submitted"
	case StatusApproved:
		return "approved"
	default:
		return "unspecified"
	}
}

// StatusFromLabel parses a stable status label.
func StatusFromLabel(label string) Status {
	switch label {
	case "unassigned":
		return StatusUnassigned
	case "assigned":
		return StatusAssigned
	case "agreed":
		return StatusAgreed
	case "in_progress":
		return StatusInProgress
	case "changes_requested":
		return StatusChangesRequested
	case "submitted":
		return StatusSubmitted
	case "approved":
		return StatusApproved
	default:
		return StatusUnspecified
	}
}

// EventLabel returns a stable label for a project event.
func EventLabel(event Event) string {
	switch event {
	case EventAssign:
		return "assign"
	case EventAccept:
		return "accept"
	case EventDecline:
		return "decline"
	case EventStart:
		return "start"
	case EventSubmit:
		return "submit"
	case EventApprove:
		return "approve"
	case EventReject:
		return "reject"
	case EventMarkPaid:
		return "mark_paid"
	default:
		return "unspecified"
	}
}

// EventFromLabel parses a stable event label.
func EventFromLabel(label string) Event {
	switch label {
	case "assign":
		return EventAssign
	case "accept":
		return EventAccept
	case "decline":
		return EventDecline
	case "start":
		return EventStart
	case "submit":
		return EventSubmit
	case "approve":
		return EventApprove
	case "reject":
		return EventReject
	case "mark_paid":
		return EventMarkPaid
	default:
		return EventUnspecified
	}
}
