package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.English

	message.SetString(lang, "tracker.generic.title", defaultGenericTitle)
	message.SetString(lang, "tracker.generic.body", defaultGenericBody)
	message.SetString(lang, "tracker.project_assigned.title", "New project assignment")
	message.SetString(lang, "tracker.project_assigned.body", "You were assigned %s (#%d). Rate: %s. Accept or decline in the project thread.")
	message.SetString(lang, "tracker.project_accepted.title", "Project accepted")
	message.SetString(lang, "tracker.project_accepted.body", "%s accepted %s (#%d).")
	message.SetString(lang, "tracker.project_declined.title", "Project declined")
	message.SetString(lang, "tracker.project_declined.body", "%s declined %s (#%d). The project is back in the unassigned pool.")
	message.SetString(lang, "tracker.project_started.title", "Project started")
	message.SetString(lang, "tracker.project_started.body", "%s started editing %s (#%d).")
	message.SetString(lang, "tracker.project_submitted.title", "Work submitted for review")
	message.SetString(lang, "tracker.project_submitted.body", "%s submitted %s (#%d): %s.")
	message.SetString(lang, "tracker.project_submitted.notes", "Notes: %s")
	message.SetString(lang, "tracker.project_approved.title", "Project approved")
	message.SetString(lang, "tracker.project_approved.body", "%s (#%d) was approved. Nice work!")
	message.SetString(lang, "tracker.project_rejected.title", "Changes requested")
	message.SetString(lang, "tracker.project_rejected.body", "%s (#%d) needs changes: %s")
	message.SetString(lang, "tracker.project_paid.title", "Payment sent")
	message.SetString(lang, "tracker.project_paid.body", "%s (#%d) was marked paid. Amount: %s.")
	message.SetString(lang, "tracker.project_deadline_reminder.title", "Deadline approaching")
	message.SetString(lang, "tracker.project_deadline_reminder.body", "%s (#%d) is due %s.")
	message.SetString(lang, "tracker.project_overdue.title", "Project overdue")
	message.SetString(lang, "tracker.project_overdue.body", "%s (#%d) missed its deadline (%s).")
	message.SetString(lang, "tracker.delivery_dead.title", "Notification delivery failed")
	message.SetString(lang, "tracker.delivery_dead.body", "A notification for %s (#%d) could not be delivered after repeated attempts.")
}
