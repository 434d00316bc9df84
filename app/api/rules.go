package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-desk/app/database"
	"github.com/lysyi3m/rss-desk/app/rules"
)

const maxExecutionsLimit = 200

func (h *Handler) ListRules(c *gin.Context) {
	list, err := h.Rules.ListRules(c.Request.Context(), h.UserID)
	if err != nil {
		slog.Error("Database error", "operation", "list_rules", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	resp := make([]ruleResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toRuleResponse(&list[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"rules": resp,
		"total": len(resp),
	})
}

func (h *Handler) GetRule(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	rec, err := h.Rules.GetRule(c.Request.Context(), h.UserID, id)
	if !h.checkFound(c, err, "get_rule", "Rule not found") {
		return
	}

	c.JSON(http.StatusOK, toRuleResponse(rec))
}

func (h *Handler) CreateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Rule name is required"})
		return
	}

	rec := database.Rule{
		UserID:      h.UserID,
		Name:        req.Name,
		Enabled:     req.Enabled == nil || *req.Enabled,
		TriggerType: req.TriggerType,
	}
	if req.Priority != nil {
		rec.Priority = *req.Priority
	}

	if err := applyDefinition(&rec, req.Conditions, req.Actions); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule", "details": err.Error()})
		return
	}

	if err := h.Rules.CreateRule(c.Request.Context(), &rec, h.now()); err != nil {
		slog.Error("Database error", "operation", "create_rule", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create rule"})
		return
	}

	slog.Info("Rule created", "rule", rec.ID, "name", rec.Name, "trigger", rec.TriggerType)
	c.JSON(http.StatusCreated, toRuleResponse(&rec))
}

// UpdateRule applies the fields present in the body to the stored rule and
// validates the result as a whole.
func (h *Handler) UpdateRule(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := paramID(c)
	if !ok {
		return
	}

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	rec, err := h.Rules.GetRule(ctx, h.UserID, id)
	if !h.checkFound(c, err, "get_rule", "Rule not found") {
		return
	}

	if req.Name != "" {
		rec.Name = req.Name
	}
	if req.Enabled != nil {
		rec.Enabled = *req.Enabled
	}
	if req.TriggerType != "" {
		rec.TriggerType = req.TriggerType
	}
	if req.Priority != nil {
		rec.Priority = *req.Priority
	}

	conditions, actions := jsonDocument(rec.Conditions), jsonDocument(rec.Actions)
	if req.Conditions != nil {
		conditions = req.Conditions
	}
	if req.Actions != nil {
		actions = req.Actions
	}

	if err := applyDefinition(rec, conditions, actions); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule", "details": err.Error()})
		return
	}

	err = h.Rules.UpdateRule(ctx, rec, h.now())
	if !h.checkFound(c, err, "update_rule", "Rule not found") {
		return
	}

	c.JSON(http.StatusOK, toRuleResponse(rec))
}

func (h *Handler) DeleteRule(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	err := h.Rules.DeleteRule(c.Request.Context(), h.UserID, id)
	if !h.checkFound(c, err, "delete_rule", "Rule not found") {
		return
	}

	slog.Info("Rule deleted", "rule", id)
	c.Status(http.StatusNoContent)
}

// TestRule evaluates an unsaved rule against recent articles without running
// its actions.
func (h *Handler) TestRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	rec := database.Rule{UserID: h.UserID, Name: req.Name, Enabled: true, TriggerType: req.TriggerType}
	if err := applyDefinition(&rec, req.Conditions, req.Actions); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule", "details": err.Error()})
		return
	}

	rule, err := rules.FromRecord(rec)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule", "details": err.Error()})
		return
	}

	result, err := h.Tester.TestRule(c.Request.Context(), h.UserID, rule, min(req.SampleSize, maxArticlesLimit))
	if err != nil {
		slog.Error("Rule test failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to test rule"})
		return
	}

	matched := make([]articleResponse, 0, len(result.Matched))
	for i := range result.Matched {
		matched = append(matched, toArticleResponse(&result.Matched[i], false))
	}

	c.JSON(http.StatusOK, gin.H{
		"tested":   result.Tested,
		"matched":  len(matched),
		"articles": matched,
	})
}

func (h *Handler) ListExecutions(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := paramID(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxExecutionsLimit)
	}

	if _, err := h.Rules.GetRule(ctx, h.UserID, id); !h.checkFound(c, err, "get_rule", "Rule not found") {
		return
	}

	executions, err := h.Rules.ListExecutions(ctx, id, limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_executions", "rule", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	resp := make([]executionResponse, 0, len(executions))
	for _, e := range executions {
		resp = append(resp, executionResponse{
			ID:           e.ID,
			RuleID:       e.RuleID,
			ArticleID:    e.ArticleID,
			Success:      e.Success,
			ActionsTaken: jsonDocument(e.ActionsTaken),
			ErrorMessage: e.ErrorMessage,
			ExecutedAt:   e.ExecutedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": resp,
		"total":      len(resp),
	})
}

// applyDefinition validates trigger, conditions and actions together and
// stores the compacted JSON on rec.
func applyDefinition(rec *database.Rule, conditions, actions jsonDocument) error {
	conds, err := compactArray(conditions)
	if err != nil {
		return fmt.Errorf("conditions: %w", err)
	}

	acts, err := compactArray(actions)
	if err != nil {
		return fmt.Errorf("actions: %w", err)
	}

	if err := rules.Validate(rec.TriggerType, conds, acts); err != nil {
		return err
	}

	rec.Conditions = conds
	rec.Actions = acts
	return nil
}

// compactArray returns doc without insignificant whitespace. A missing or
// null document becomes an empty array.
func compactArray(doc jsonDocument) ([]byte, error) {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []byte("[]"), nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
