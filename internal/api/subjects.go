package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/entity"
	"github.com/opensource-finance/heron/internal/rules"
)

// CreateSubject registers a subject for monitoring.
func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.SubjectRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	s := &domain.Subject{
		ID:           req.ID,
		Name:         req.Name,
		Email:        req.Email,
		Country:      req.Country,
		KYCStatus:    req.KYCStatus,
		IsPEP:        req.IsPEP,
		IsSanctioned: req.IsSanctioned,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.KYCStatus == "" {
		s.KYCStatus = domain.KYCPending
	}

	if err := h.svc.Repo.CreateSubject(ctx, s); err != nil {
		writeError(w, err)
		return
	}

	h.svc.Audit.Record(ctx, domain.AuditEntry{
		ActorID:    GetActor(ctx).ID,
		Action:     "create",
		EntityType: domain.EntitySubject,
		EntityID:   s.ID,
		SubjectID:  s.ID,
	})

	slog.Info("subject registered", "subject_id", s.ID, "kyc_status", s.KYCStatus)
	writeJSON(w, http.StatusCreated, s)
}

// GetSubject retrieves a subject by ID.
func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Repo.GetSubject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// AddDocument stores a KYC document for a subject.
func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID := chi.URLParam(r, "id")

	var doc domain.Document
	if err := h.decode(r, &doc); err != nil {
		writeError(w, err)
		return
	}
	doc.SubjectID = subjectID
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = domain.DocPending
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	if err := doc.Validate(); err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.svc.Repo.GetSubject(ctx, subjectID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.Repo.SaveDocument(ctx, &doc); err != nil {
		writeError(w, err)
		return
	}

	h.svc.Audit.Record(ctx, domain.AuditEntry{
		ActorID:    GetActor(ctx).ID,
		Action:     "save",
		EntityType: domain.EntityDocument,
		EntityID:   doc.ID,
		SubjectID:  subjectID,
		Details:    map[string]any{"kind": doc.Kind, "status": doc.Status},
	})

	writeJSON(w, http.StatusCreated, doc)
}

// GetView assembles the unified view of a subject.
//
// Query parameters: since (RFC 3339), status, suspect (bool) and
// closed (bool, default true).
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := h.svc.Entities.Assemble(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func parseFilter(r *http.Request) (entity.Filter, error) {
	q := r.URL.Query()
	filter := entity.All()

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("%w: since must be RFC 3339", domain.ErrInvalidInput)
		}
		filter.Since = since
	}
	if v := q.Get("status"); v != "" {
		filter.TransactionStatus = domain.TransactionStatus(v)
	}
	if v := q.Get("suspect"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("%w: suspect must be a boolean", domain.ErrInvalidInput)
		}
		filter.SuspectOnly = b
	}
	if v := q.Get("closed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("%w: closed must be a boolean", domain.ErrInvalidInput)
		}
		filter.IncludeClosed = b
	}
	return filter, nil
}

// CheckConsistency reports cross-reference violations for a subject.
func (h *Handler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "id")

	violations, err := h.svc.Entities.ValidateConsistency(r.Context(), subjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if violations == nil {
		violations = []entity.ConsistencyViolation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subjectId":  subjectID,
		"consistent": len(violations) == 0,
		"violations": violations,
	})
}

// AssessRequest is the request body for POST /subjects/{id}/assessments.
// Without factors the subject's stored KYC evidence is scored. Attributes
// are merged over the stored ones. Triggers force individual rules to
// match (true) or not (false) regardless of their expressions.
type AssessRequest struct {
	// Category narrows the rules in scope; empty evaluates the whole catalog.
	Category   domain.RuleCategory `json:"category" validate:"omitempty,oneof=kyc transaction behavioral"`
	Factors    []domain.RiskFactor `json:"factors" validate:"dive"`
	Attributes map[string]any      `json:"attributes"`
	Triggers   map[string]bool     `json:"triggers"`
}

// Assess scores a subject and appends the result to its history.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID := chi.URLParam(r, "id")

	var req AssessRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ev, err := h.svc.Evidence.ForSubject(ctx, subjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Category != "" {
		ev.Category = req.Category
	}
	if len(req.Factors) > 0 {
		ev.Factors = req.Factors
	}
	for k, v := range req.Attributes {
		ev.Attributes[k] = v
	}

	triggers := h.svc.Catalog.Triggers()
	for ruleID, match := range req.Triggers {
		if match {
			triggers = triggers.With(ruleID, rules.Always)
		} else {
			triggers = triggers.With(ruleID, rules.Never)
		}
	}

	result, err := h.svc.Risk.Assess(ctx, ev, triggers, GetActor(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ListAssessments returns a subject's assessment history, newest first.
func (h *Handler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID := chi.URLParam(r, "id")

	if _, err := h.svc.Repo.GetSubject(ctx, subjectID); err != nil {
		writeError(w, err)
		return
	}
	history, err := h.svc.Risk.History(ctx, subjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assessments": history,
		"count":       len(history),
	})
}
