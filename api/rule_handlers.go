package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/freightflow/invoice-mapping-service/internal/db"
	"github.com/freightflow/invoice-mapping-service/internal/fields"
	"github.com/freightflow/invoice-mapping-service/internal/identify"
	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// ListRules returns mapping rules, optionally filtered by forwarder and
// field. Without ?all=true only active rules are returned.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	if h.rules == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	includeInactive := r.URL.Query().Get("all") == "true"

	var rules []models.MappingRule
	var err error
	if fwParam := r.URL.Query().Get("forwarderId"); fwParam != "" {
		fwID, parseErr := uuid.Parse(fwParam)
		if parseErr != nil {
			h.sendError(w, http.StatusBadRequest, "invalid forwarderId")
			return
		}
		rules, err = h.rules.ListForForwarder(ctx, &fwID)
	} else {
		rules, err = h.rules.List(ctx, !includeInactive)
	}
	if err != nil {
		h.logger.Error("api.rules.list_failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	if field := r.URL.Query().Get("field"); field != "" {
		filtered := rules[:0]
		for _, rule := range rules {
			if rule.FieldName == field {
				filtered = append(filtered, rule)
			}
		}
		rules = filtered
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"count":   len(rules),
		"rules":   rules,
	})
}

// CreateRule stores a new mapping rule after validating it
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	if h.rules == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	var rule models.MappingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid rule payload: "+err.Error())
		return
	}

	if msg := validateRule(&rule); msg != "" {
		h.sendError(w, http.StatusBadRequest, msg)
		return
	}

	rule.ID = uuid.New()
	rule.IsActive = true
	if err := h.rules.Create(ctx, &rule); err != nil {
		h.logger.Error("api.rules.create_failed", "field", rule.FieldName, "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}

	h.logger.Info("api.rules.created",
		"rule_id", rule.ID,
		"field", rule.FieldName,
		"method", ruleMethod(rule))

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"rule":    rule,
	})
}

// validateRule checks a submitted rule, returning an empty string when it
// is acceptable and a client-facing message otherwise.
func validateRule(rule *models.MappingRule) string {
	if rule.FieldName == "" {
		return "fieldName is required"
	}
	if !fields.Known(rule.FieldName) {
		return "unknown field name: " + rule.FieldName
	}
	if rule.Pattern == nil && rule.DefaultValue == "" {
		return "rule needs a pattern or a default value"
	}
	if rp, ok := rule.Pattern.(models.RegexPattern); ok {
		if _, err := regexp.Compile(rp.Pattern); err != nil {
			return "invalid regex pattern: " + err.Error()
		}
	}
	if rule.ValidationPattern != "" {
		if _, err := regexp.Compile(rule.ValidationPattern); err != nil {
			return "invalid validation pattern: " + err.Error()
		}
	}
	return ""
}

func ruleMethod(rule models.MappingRule) string {
	if rule.Pattern != nil {
		return rule.Pattern.Method()
	}
	return models.MethodDefault
}

// DeactivateRule soft-disables a rule so past extractions keep a
// resolvable rule id.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	if h.rules == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	if err := h.rules.Deactivate(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.sendError(w, http.StatusNotFound, "rule not found")
			return
		}
		h.logger.Error("api.rules.deactivate_failed", "rule_id", id, "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to deactivate rule")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":     true,
		"deactivated": id,
	})
}

// ListForwarders returns the configured forwarders. Without a database
// the built-in defaults are served so identification stays inspectable.
func (h *Handler) ListForwarders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	includeInactive := r.URL.Query().Get("all") == "true"

	var forwarders []models.Forwarder
	if h.forwarders != nil {
		var err error
		forwarders, err = h.forwarders.List(ctx, !includeInactive)
		if err != nil {
			h.logger.Error("api.forwarders.list_failed", "error", err)
			h.sendError(w, http.StatusInternalServerError, "failed to list forwarders")
			return
		}
	} else {
		forwarders = identify.DefaultForwarders()
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"count":      len(forwarders),
		"forwarders": forwarders,
	})
}

// IdentifyRequest is the body for the forwarder identification endpoint
type IdentifyRequest struct {
	Text string `json:"text"`
}

// IdentifyForwarder scores raw OCR text against the forwarder catalog
// without running the rest of the pipeline. Useful for tuning patterns.
func (h *Handler) IdentifyForwarder(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	var req IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		h.sendError(w, http.StatusBadRequest, "text is required")
		return
	}

	forwarders := identify.DefaultForwarders()
	if h.forwarders != nil {
		if listed, err := h.forwarders.List(ctx, true); err == nil {
			forwarders = listed
		} else {
			h.logger.Warn("api.forwarders.fallback", "error", err)
		}
	}

	matcher := identify.NewMatcher(forwarders, h.config.Identify, h.logger)
	result := matcher.Identify(req.Text)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":        true,
		"identification": result,
	})
}

// parseLimit reads an integer query parameter, falling back to def and
// clamping to max.
func parseLimit(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
