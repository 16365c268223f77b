package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/heron/internal/cases"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/sar"
)

// RecordTransaction stores a transaction and publishes it for monitoring.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req domain.TransactionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !req.SenderAmount.IsPositive() {
		writeError(w, fmt.Errorf("%w: senderAmount must be positive", domain.ErrInvalidInput))
		return
	}
	if _, err := h.svc.Repo.GetSubject(ctx, req.SenderUserID); err != nil {
		writeError(w, err)
		return
	}

	tx := req.ToTransaction()
	tx.ID = uuid.New().String()
	if err := h.svc.Repo.CreateTransaction(ctx, tx); err != nil {
		slog.Error("failed to save transaction", "transaction_id", tx.ID, "error", err)
		writeError(w, err)
		return
	}

	h.svc.Audit.Record(ctx, domain.AuditEntry{
		ActorID:    GetActor(ctx).ID,
		Action:     "record",
		EntityType: domain.EntityTransaction,
		EntityID:   tx.ID,
		SubjectID:  tx.SenderUserID,
		Details:    map[string]any{"amount": tx.SenderAmount.String(), "currency": tx.SenderCurrency},
	})

	// The transaction is stored either way; monitoring is best effort.
	if h.svc.Bus != nil {
		payload, _ := json.Marshal(domain.TransactionEvent{
			TransactionID: tx.ID,
			SubjectID:     tx.SenderUserID,
			TraceID:       traceID,
		})
		if err := h.svc.Bus.Publish(ctx, domain.TopicTransactionRecorded, payload); err != nil {
			slog.Warn("failed to publish transaction",
				"transaction_id", tx.ID,
				"trace_id", traceID,
				"error", err,
			)
		}
	}

	writeJSON(w, http.StatusCreated, tx)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.Repo.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// FlagTransaction raises an alert for a transaction. Flagging an already
// flagged transaction returns its open alert with 200.
func (h *Handler) FlagTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.FlagRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	alert, created, err := h.svc.Alerts.Flag(ctx, chi.URLParam(r, "id"), req, GetActor(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, alert)
}

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.svc.Alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type noteRequest struct {
	Text string `json:"text" validate:"required"`
}

// AddAlertNote appends an investigation note.
func (h *Handler) AddAlertNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req noteRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	alert, err := h.svc.Alerts.AddNote(ctx, chi.URLParam(r, "id"), req.Text, GetActor(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// InvestigateAlert starts working an open alert.
func (h *Handler) InvestigateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alert, err := h.svc.Alerts.Investigate(ctx, chi.URLParam(r, "id"), GetActor(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// EscalateAlert closes an alert into a new compliance case.
func (h *Handler) EscalateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alert, c, err := h.svc.Alerts.Escalate(ctx, chi.URLParam(r, "id"), GetActor(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"alert": alert,
		"case":  c,
	})
}

type dismissRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// DismissAlert closes an alert as a false positive.
func (h *Handler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dismissRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	alert, err := h.svc.Alerts.Dismiss(ctx, chi.URLParam(r, "id"), req.Reason, GetActor(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// CaseResponse is a case plus the statuses the caller may move it to.
type CaseResponse struct {
	*domain.ComplianceCase
	AvailableTargets []domain.CaseStatus `json:"availableTargets"`
}

func caseResponse(c *domain.ComplianceCase, actor domain.Actor) CaseResponse {
	targets := cases.Targets(c.Status, actor)
	if targets == nil {
		targets = []domain.CaseStatus{}
	}
	return CaseResponse{ComplianceCase: c, AvailableTargets: targets}
}

// CreateCase opens a case by hand.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.CaseRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	actor := GetActor(ctx)
	c, err := h.svc.Cases.Create(ctx, req, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, caseResponse(c, actor))
}

type fromAssessmentRequest struct {
	SubjectID    string `json:"subjectId" validate:"required"`
	AssessmentID string `json:"assessmentId" validate:"required"`
}

// CreateCaseFromAssessment opens a case from a stored assessment.
func (h *Handler) CreateCaseFromAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req fromAssessmentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	actor := GetActor(ctx)
	c, err := h.svc.Cases.CreateFromAssessment(ctx, req.SubjectID, req.AssessmentID, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, caseResponse(c, actor))
}

// GetCase retrieves a case by ID.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.svc.Cases.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caseResponse(c, GetActor(ctx)))
}

type caseTransitionRequest struct {
	Status domain.CaseStatus `json:"status" validate:"required"`
}

// TransitionCase moves a case to a new status.
func (h *Handler) TransitionCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req caseTransitionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	actor := GetActor(ctx)
	c, err := h.svc.Cases.Transition(ctx, chi.URLParam(r, "id"), req.Status, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caseResponse(c, actor))
}

type assignRequest struct {
	Assignee string `json:"assignee" validate:"required"`
}

// AssignCase sets the investigator of a case.
func (h *Handler) AssignCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req assignRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	actor := GetActor(ctx)
	c, err := h.svc.Cases.Assign(ctx, chi.URLParam(r, "id"), req.Assignee, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caseResponse(c, actor))
}

// SARResponse is a SAR plus the actions the caller may apply.
type SARResponse struct {
	*domain.SAR
	AvailableActions []domain.SARAction `json:"availableActions"`
}

func sarResponse(s *domain.SAR, actor domain.Actor) SARResponse {
	actions := sar.AvailableActions(s.Status, actor)
	if actions == nil {
		actions = []domain.SARAction{}
	}
	return SARResponse{SAR: s, AvailableActions: actions}
}

// CreateSAR drafts a SAR by hand.
func (h *Handler) CreateSAR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.SARRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	actor := GetActor(ctx)
	s, err := h.svc.SARs.Create(ctx, req, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sarResponse(s, actor))
}

type sarFromCaseRequest struct {
	CaseID string `json:"caseId" validate:"required"`
	Notes  string `json:"notes"`
}

// CreateSARFromCase drafts a SAR for a case's subject.
func (h *Handler) CreateSARFromCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sarFromCaseRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	actor := GetActor(ctx)
	s, err := h.svc.SARs.CreateFromCase(ctx, req.CaseID, req.Notes, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sarResponse(s, actor))
}

type sarFromPatternRequest struct {
	Pattern        string   `json:"pattern" validate:"required"`
	TransactionIDs []string `json:"transactionIds" validate:"required,min=1,dive,required"`
	Notes          string   `json:"notes"`
}

// CreateSARFromPattern drafts a SAR from a detected transaction pattern.
func (h *Handler) CreateSARFromPattern(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sarFromPatternRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	actor := GetActor(ctx)
	s, err := h.svc.SARs.CreateFromPattern(ctx, req.Pattern, req.TransactionIDs, req.Notes, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sarResponse(s, actor))
}

// GetSAR retrieves a SAR by ID.
func (h *Handler) GetSAR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.svc.SARs.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sarResponse(s, GetActor(ctx)))
}

type sarActionRequest struct {
	Action domain.SARAction `json:"action" validate:"required"`
	Notes  string           `json:"notes"`
}

// ApplySARAction applies a workflow action to a SAR.
func (h *Handler) ApplySARAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sarActionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	actor := GetActor(ctx)
	s, err := h.svc.SARs.Apply(ctx, chi.URLParam(r, "id"), req.Action, req.Notes, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sarResponse(s, actor))
}

type linkRequest struct {
	TransactionIDs []string `json:"transactionIds" validate:"required,min=1,dive,required"`
}

// LinkSARTransactions adds transactions to an unfiled SAR.
func (h *Handler) LinkSARTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req linkRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	actor := GetActor(ctx)
	s, err := h.svc.SARs.LinkTransactions(ctx, chi.URLParam(r, "id"), req.TransactionIDs, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sarResponse(s, actor))
}

// SARHistory returns a SAR's action history, oldest first.
func (h *Handler) SARHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.SARs.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history": history,
		"count":   len(history),
	})
}
