// Package http exposes the tracker service over a JSON API. Identity is
// resolved by the chat gateway upstream; this layer trusts the actor headers
// it forwards.
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apperrors "github.com/cutdesk/cutdesk/internal/platform/errors"
	"github.com/cutdesk/cutdesk/internal/project"
	"github.com/cutdesk/cutdesk/internal/services/tracker/domain"
)

const (
	actorIDHeader    = "X-Actor-ID"
	actorRolesHeader = "X-Actor-Roles"
)

// Handler serves the tracker JSON API.
type Handler struct {
	service *domain.Service
	routes  http.Handler
}

// NewHandler builds the tracker API routes around a service.
func NewHandler(service *domain.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("tracker service is required")
	}

	h := &Handler{service: service}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", h.handleUp)
	mux.HandleFunc("POST /v1/projects", h.handleCreateProject)
	mux.HandleFunc("GET /v1/projects", h.handleListProjects)
	mux.HandleFunc("GET /v1/projects/{projectID}", h.handleGetProject)
	mux.HandleFunc("GET /v1/projects/{projectID}/history", h.handleListHistory)
	mux.HandleFunc("POST /v1/projects/{projectID}/intents", h.handleSubmitIntent)
	mux.HandleFunc("POST /v1/editors", h.handleRegisterEditor)
	mux.HandleFunc("GET /v1/editors/{editorID}", h.handleGetEditor)
	mux.HandleFunc("PUT /v1/editors/{editorID}/availability", h.handleSetAvailability)
	h.routes = otelhttp.NewHandler(mux, "tracker.api")
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.routes.ServeHTTP(w, r)
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type projectView struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Status            string     `json:"status"`
	EditorUserID      string     `json:"editor_user_id,omitempty"`
	EditorDisplayName string     `json:"editor_display_name,omitempty"`
	ManagerRoleID     string     `json:"manager_role_id,omitempty"`
	Rate              string     `json:"rate"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	ThreadChannelID   string     `json:"thread_channel_id,omitempty"`
	SubmissionLink    string     `json:"submission_link,omitempty"`
	AttachmentURL     string     `json:"attachment_url,omitempty"`
	SubmissionNotes   string     `json:"submission_notes,omitempty"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	Paid              bool       `json:"paid"`
	ArchivedAt        *time.Time `json:"archived_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type transitionView struct {
	Project       projectView `json:"project"`
	Prior         string      `json:"prior_status"`
	Next          string      `json:"next_status"`
	Notifications int         `json:"notifications_queued"`
}

type historyView struct {
	Event     string    `json:"event"`
	Status    string    `json:"status"`
	ActorID   string    `json:"actor_id"`
	CreatedAt time.Time `json:"created_at"`
}

type editorView struct {
	UserID                string `json:"user_id"`
	Name                  string `json:"name"`
	Position              string `json:"position,omitempty"`
	GCash                 string `json:"gcash,omitempty"`
	Email                 string `json:"email,omitempty"`
	Availability          string `json:"availability"`
	MaxConcurrentProjects int    `json:"max_concurrent_projects,omitempty"`
	ActiveProjects        int    `json:"active_projects"`
}

type createProjectRequest struct {
	Name              string     `json:"name"`
	Rate              string     `json:"rate"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	ThreadChannelID   string     `json:"thread_channel_id,omitempty"`
	ManagerRoleID     string     `json:"manager_role_id,omitempty"`
	EditorUserID      string     `json:"editor_user_id,omitempty"`
	EditorDisplayName string     `json:"editor_display_name,omitempty"`
}

type intentRequest struct {
	Event string `json:"event"`
	// ActorID overrides the gateway header when the gateway relays commands
	// on behalf of another user.
	ActorID string        `json:"actor_id,omitempty"`
	Payload intentPayload `json:"payload"`
}

type intentPayload struct {
	EditorUserID      string `json:"editor_user_id,omitempty"`
	EditorDisplayName string `json:"editor_display_name,omitempty"`
	Rate              string `json:"rate,omitempty"`
	ThreadChannelID   string `json:"thread_channel_id,omitempty"`
	SubmissionLink    string `json:"submission_link,omitempty"`
	AttachmentURL     string `json:"attachment_url,omitempty"`
	SubmissionNotes   string `json:"submission_notes,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

type registerEditorRequest struct {
	UserID                string `json:"user_id"`
	Name                  string `json:"name"`
	Position              string `json:"position,omitempty"`
	GCash                 string `json:"gcash,omitempty"`
	Email                 string `json:"email,omitempty"`
	MaxConcurrentProjects int    `json:"max_concurrent_projects,omitempty"`
}

type availabilityRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleUp(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid project payload")
		return
	}

	outcome, err := h.service.CreateProject(r.Context(), domain.CreateProjectInput{
		ActorID:           actorID(r),
		ActorRoles:        actorRoles(r),
		Name:              req.Name,
		Rate:              req.Rate,
		Deadline:          req.Deadline,
		ThreadChannelID:   req.ThreadChannelID,
		ManagerRoleID:     req.ManagerRoleID,
		EditorUserID:      req.EditorUserID,
		EditorDisplayName: req.EditorDisplayName,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transitionViewFrom(outcome))
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.service.ListProjects(r.Context(), r.URL.Query().Get("status"), r.URL.Query().Get("editor_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]projectView, 0, len(projects))
	for _, p := range projects {
		views = append(views, projectViewFrom(p))
	}
	writeJSON(w, http.StatusOK, map[string][]projectView{"projects": views})
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseProjectID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetProject(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projectViewFrom(p))
}

func (h *Handler) handleListHistory(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseProjectID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListHistory(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]historyView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, historyView{
			Event:     project.EventLabel(entry.Event),
			Status:    project.StatusLabel(entry.Status),
			ActorID:   entry.ActorID,
			CreatedAt: entry.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]historyView{"history": views})
}

func (h *Handler) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseProjectID(w, r)
	if !ok {
		return
	}
	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid intent payload")
		return
	}

	intentActor := strings.TrimSpace(req.ActorID)
	if intentActor == "" {
		intentActor = actorID(r)
	}
	outcome, err := h.service.SubmitIntent(r.Context(), domain.SubmitIntentInput{
		ProjectID:               projectID,
		Event:                   req.Event,
		ActorID:                 intentActor,
		ActorRoles:              actorRoles(r),
		EditorUserID:            req.Payload.EditorUserID,
		EditorDisplayName:       req.Payload.EditorDisplayName,
		Rate:                    req.Payload.Rate,
		ThreadChannelID:         req.Payload.ThreadChannelID,
		SubmissionLink:          req.Payload.SubmissionLink,
		SubmissionAttachmentURL: req.Payload.AttachmentURL,
		SubmissionNotes:         req.Payload.SubmissionNotes,
		Reason:                  req.Payload.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionViewFrom(outcome))
}

func (h *Handler) handleRegisterEditor(w http.ResponseWriter, r *http.Request) {
	var req registerEditorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid editor payload")
		return
	}
	record, err := h.service.RegisterEditor(r.Context(), domain.RegisterEditorInput{
		UserID:                req.UserID,
		Name:                  req.Name,
		Position:              req.Position,
		GCash:                 req.GCash,
		Email:                 req.Email,
		MaxConcurrentProjects: req.MaxConcurrentProjects,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, editorView{
		UserID:                record.UserID,
		Name:                  record.Name,
		Position:              record.Position,
		GCash:                 record.GCash,
		Email:                 record.Email,
		Availability:          string(record.AvailabilityStatus),
		MaxConcurrentProjects: record.MaxConcurrentProjects,
	})
}

func (h *Handler) handleGetEditor(w http.ResponseWriter, r *http.Request) {
	editorID := strings.TrimSpace(r.PathValue("editorID"))
	status, err := h.service.GetEditorStatus(r.Context(), editorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, editorView{
		UserID:                status.Editor.UserID,
		Name:                  status.Editor.Name,
		Position:              status.Editor.Position,
		GCash:                 status.Editor.GCash,
		Email:                 status.Editor.Email,
		Availability:          string(status.Editor.AvailabilityStatus),
		MaxConcurrentProjects: status.Editor.MaxConcurrentProjects,
		ActiveProjects:        status.ActiveProjects,
	})
}

func (h *Handler) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	editorID := strings.TrimSpace(r.PathValue("editorID"))
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid availability payload")
		return
	}
	if err := h.service.SetEditorAvailability(r.Context(), editorID, req.Status); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(actorIDHeader))
}

func actorRoles(r *http.Request) []string {
	raw := strings.TrimSpace(r.Header.Get(actorRolesHeader))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		if role := strings.TrimSpace(part); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

func parseProjectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.PathValue("projectID"))
	projectID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || projectID < 1 {
		writeBadRequest(w, "project id must be a positive integer")
		return 0, false
	}
	return projectID, true
}

func projectViewFrom(p project.Project) projectView {
	view := projectView{
		ID:                strconv.FormatInt(p.ID, 10),
		Name:              p.Name,
		Status:            project.StatusLabel(p.Status),
		EditorUserID:      p.Editor.UserID,
		EditorDisplayName: p.Editor.DisplayName,
		ManagerRoleID:     p.ManagerRoleID,
		Rate:              p.Rate,
		Deadline:          p.Deadline,
		ThreadChannelID:   p.ThreadChannelID,
		RejectionReason:   p.RejectionReason,
		Paid:              p.Paid,
		ArchivedAt:        p.ArchivedAt,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
	if p.Submission != nil {
		view.SubmissionLink = p.Submission.Link
		view.AttachmentURL = p.Submission.AttachmentURL
		view.SubmissionNotes = p.Submission.Notes
		submittedAt := p.Submission.SubmittedAt
		view.SubmittedAt = &submittedAt
	}
	return view
}

func transitionViewFrom(outcome domain.TransitionOutcome) transitionView {
	return transitionView{
		Project:       projectViewFrom(outcome.Project),
		Prior:         project.StatusLabel(outcome.Prior),
		Next:          project.StatusLabel(outcome.Next),
		Notifications: len(outcome.Intents),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	body := errorBody{
		Code:    string(code),
		Message: err.Error(),
	}
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		body.Details = domainErr.Metadata
	}
	writeJSON(w, code.HTTPStatus(), errorEnvelope{Error: body})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
		Code:    string(apperrors.CodeProjectMissingData),
		Message: message,
	}})
}
