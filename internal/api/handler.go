package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/opensource-finance/heron/internal/domain"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc      Services
	validate *validator.Validate
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(svc Services, version string) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		version:  version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.svc.Repo != nil {
		if err := h.svc.Repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.svc.Cache != nil {
		if err := h.svc.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check event bus health
	if h.svc.Bus != nil {
		if err := h.svc.Bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.svc.Repo != nil {
		if err := h.svc.Repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns the rules currently loaded in the catalog.
// Rules are seeded into the store at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	category := domain.RuleCategory(r.URL.Query().Get("category"))
	if category != "" && !category.Valid() {
		writeError(w, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidInput, category))
		return
	}

	loaded := h.svc.Catalog.GetRules(category)
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a rule by its rule id from the loaded catalog.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.svc.Catalog.GetRule(chi.URLParam(r, "ruleId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates a rule and saves it to the store.
// After saving, call POST /rules/reload to apply it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.Rule
	if err := h.decode(r, &rule); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(rule.RuleName) == "" {
		writeError(w, fmt.Errorf("%w: ruleName is required", domain.ErrInvalidInput))
		return
	}
	if err := h.svc.Catalog.Validate(&rule); err != nil {
		writeError(w, err)
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	if err := h.svc.Repo.SaveRule(ctx, &rule); err != nil {
		slog.Error("failed to save rule", "rule_id", rule.RuleID, "error", err)
		writeError(w, err)
		return
	}

	h.svc.Audit.Record(ctx, domain.AuditEntry{
		ActorID:    GetActor(ctx).ID,
		Action:     "save_rule",
		EntityType: "rule",
		EntityID:   rule.RuleID,
	})

	slog.Info("rule saved", "rule_id", rule.RuleID, "category", rule.Category)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule saved. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads every stored rule into the catalog.
// A rule that fails to compile leaves the previous catalog in place.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stored, err := h.svc.Repo.ListRules(ctx)
	if err != nil {
		slog.Error("failed to list rules from store", "error", err)
		writeError(w, err)
		return
	}

	if err := h.svc.Catalog.Load(stored); err != nil {
		slog.Error("failed to reload rules into catalog", "error", err)
		writeError(w, err)
		return
	}

	slog.Info("rules reloaded from store", "count", len(stored))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(stored),
	})
}

// decode reads a JSON body into v and runs its validate tags. An empty
// body decodes to the zero value.
func (h *Handler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON request body", domain.ErrInvalidInput)
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s validation", domain.ErrInvalidInput, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// writeError maps engine errors to HTTP responses.
func writeError(w http.ResponseWriter, err error) {
	var te *domain.TransitionError
	switch {
	case errors.Is(err, domain.ErrConflictingState):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "conflicting_state",
			"detail": err.Error(),
		})
	case errors.Is(err, domain.ErrNotesRequired):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	case errors.As(err, &te):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  err.Error(),
			"from":   te.From,
			"action": te.Action,
			"reason": te.Reason,
		})
	case errors.Is(err, domain.ErrIllegalTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidEvidence):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
