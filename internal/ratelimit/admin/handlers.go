package admin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rlerrors"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rules"
)

// refreshCacheAfterMutation reloads the rule cache following a store write.
// POST/PUT/DELETE /rules "trigger refresh" per SPEC_FULL.md §6's table, and
// both PATCH routes call it as well. A failed refresh only logs — the mutation itself
// already succeeded, and the previous rule list stays installed until the
// next refresh succeeds, per §7's RuleRefreshFailed semantics.
func (s *Server) refreshCacheAfterMutation(r *http.Request) {
	if err := s.cache.Refresh(r.Context()); err != nil {
		s.logger.Warn("rule cache refresh after mutation failed, serving stale rules until next refresh", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	records, err := s.ruleStore.ListAllRules(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	respondJSON(w, http.StatusOK, decodeRecords(records))
}

func (s *Server) handleListActiveRules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.cache.Snapshot())
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	data, err := s.ruleStore.GetRule(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store error", err)
		return
	}
	if data == nil {
		respondError(w, http.StatusNotFound, "rule not found", rlerrors.ErrRuleNotFound)
		return
	}
	var rule rules.Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		respondError(w, http.StatusInternalServerError, "stored rule is malformed", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule payload", err)
		return
	}
	if rule.ID == "" {
		rule.ID = newRuleID()
	}
	rule.ApplyDefaults()
	if err := rule.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	data, err := json.Marshal(rule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode rule", err)
		return
	}
	if err := s.ruleStore.PutRule(r.Context(), rule.ID, data); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store rule", err)
		return
	}
	s.refreshCacheAfterMutation(r)
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, err := s.ruleStore.GetRule(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store error", err)
		return
	}
	if existing == nil {
		respondError(w, http.StatusNotFound, "rule not found", rlerrors.ErrRuleNotFound)
		return
	}
	var rule rules.Rule
	if err := json.Unmarshal(existing, &rule); err != nil {
		respondError(w, http.StatusInternalServerError, "stored rule is malformed", err)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule payload", err)
		return
	}
	rule.ID = id
	rule.ApplyDefaults()
	if err := rule.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	data, err := json.Marshal(rule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode rule", err)
		return
	}
	if err := s.ruleStore.PutRule(r.Context(), id, data); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store rule", err)
		return
	}
	s.refreshCacheAfterMutation(r)
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.ruleStore.DeleteRule(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "store error", err)
		return
	}
	s.refreshCacheAfterMutation(r)
	w.WriteHeader(http.StatusNoContent)
}

// handlePatchQueue toggles queueEnabled/maxQueueSize/delayPerRequestMs on a
// rule without requiring the caller to resend the whole document.
func (s *Server) handlePatchQueue(w http.ResponseWriter, r *http.Request) {
	var patch struct {
		QueueEnabled      *bool `json:"queueEnabled"`
		MaxQueueSize      *int  `json:"maxQueueSize"`
		DelayPerRequestMs *int  `json:"delayPerRequestMs"`
	}
	s.patchRule(w, r, &patch, func(rule *rules.Rule) {
		if patch.QueueEnabled != nil {
			rule.QueueEnabled = *patch.QueueEnabled
		}
		if patch.MaxQueueSize != nil {
			rule.MaxQueueSize = *patch.MaxQueueSize
		}
		if patch.DelayPerRequestMs != nil {
			rule.DelayPerRequestMs = *patch.DelayPerRequestMs
		}
	})
}

// handlePatchBodyLimit toggles the body-field identifier strategy on a rule.
func (s *Server) handlePatchBodyLimit(w http.ResponseWriter, r *http.Request) {
	var patch struct {
		BodyLimitEnabled *bool            `json:"bodyLimitEnabled"`
		BodyFieldPath    *string          `json:"bodyFieldPath"`
		BodyLimitType    *rules.LimitMode `json:"bodyLimitType"`
		BodyContentType  *string          `json:"bodyContentType"`
	}
	s.patchRule(w, r, &patch, func(rule *rules.Rule) {
		if patch.BodyLimitEnabled != nil {
			rule.BodyLimitEnabled = *patch.BodyLimitEnabled
		}
		if patch.BodyFieldPath != nil {
			rule.BodyFieldPath = *patch.BodyFieldPath
		}
		if patch.BodyLimitType != nil {
			rule.BodyLimitType = *patch.BodyLimitType
		}
		if patch.BodyContentType != nil {
			rule.BodyContentType = *patch.BodyContentType
		}
	})
}

func (s *Server) patchRule(w http.ResponseWriter, r *http.Request, patch interface{}, apply func(*rules.Rule)) {
	id := mux.Vars(r)["id"]
	existing, err := s.ruleStore.GetRule(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store error", err)
		return
	}
	if existing == nil {
		respondError(w, http.StatusNotFound, "rule not found", rlerrors.ErrRuleNotFound)
		return
	}
	var rule rules.Rule
	if err := json.Unmarshal(existing, &rule); err != nil {
		respondError(w, http.StatusInternalServerError, "stored rule is malformed", err)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid patch payload", err)
		return
	}
	apply(&rule)
	if err := rule.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule after patch", err)
		return
	}

	data, err := json.Marshal(rule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode rule", err)
		return
	}
	if err := s.ruleStore.PutRule(r.Context(), id, data); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store rule", err)
		return
	}
	s.refreshCacheAfterMutation(r)
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleRefreshRules(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Refresh(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "rule refresh failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"count": len(s.cache.Snapshot())})
}

func (s *Server) handleListConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.config.ListConfig(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list config", err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, ok, err := s.config.GetConfig(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read config", err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "config key not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid config payload", err)
		return
	}
	if err := s.config.SetConfig(r.Context(), key, body.Value); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to write config", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"key": key, "value": body.Value})
}

func decodeRecords(records [][]byte) []rules.Rule {
	out := make([]rules.Rule, 0, len(records))
	for _, data := range records {
		var rule rules.Rule
		if err := json.Unmarshal(data, &rule); err != nil {
			continue
		}
		out = append(out, rule)
	}
	return out
}
