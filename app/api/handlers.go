package api

import (
	"cmp"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-desk/app/database"
	"github.com/lysyi3m/rss-desk/app/feed"
	"github.com/lysyi3m/rss-desk/app/pipeline"
	"github.com/lysyi3m/rss-desk/app/scheduler"
)

const (
	maxRefreshInterval = 7 * 24 * 60 // minutes
	maxArticlesLimit   = 500
)

func (h *Handler) GetHealth(c *gin.Context) {
	health := gin.H{
		"status":    "ok",
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.Version,
	}

	if feedCount, err := h.Feeds.CountFeeds(c.Request.Context()); err == nil {
		health["feeds"] = feedCount
	} else {
		slog.Error("Database error", "operation", "count_feeds", "error", err)
		health["status"] = "degraded"
	}

	if h.Scheduler != nil {
		status := h.Scheduler.Status()
		health["scheduler"] = gin.H{
			"running":      status.Running,
			"breaker_open": status.BreakerOpen,
		}
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) ListFeeds(c *gin.Context) {
	feeds, err := h.Feeds.ListFeeds(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_feeds", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	resp := make([]feedResponse, 0, len(feeds))
	for i := range feeds {
		resp = append(resp, toFeedResponse(&feeds[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": resp,
		"total": len(resp),
	})
}

func (h *Handler) GetFeed(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	f, err := h.Feeds.GetFeed(c.Request.Context(), id)
	if !h.checkFound(c, err, "get_feed", "Feed not found") {
		return
	}

	c.JSON(http.StatusOK, toFeedResponse(f))
}

// CreateFeed validates the URL, fetches it once to detect the feed type and
// title, stores the feed and runs its first refresh.
func (h *Handler) CreateFeed(c *gin.Context) {
	ctx := c.Request.Context()

	var req createFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if _, err := feed.ValidateURL(req.URL); err != nil {
		c.JSON(feedErrorResponse(err))
		return
	}

	if req.RefreshIntervalMinutes < 0 || req.RefreshIntervalMinutes > maxRefreshInterval {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid refresh interval"})
		return
	}

	existing, err := h.Feeds.GetFeedByURL(ctx, req.URL)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		slog.Error("Database error", "operation", "get_feed_by_url", "url", req.URL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if existing != nil && existing.DeletedAt == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Feed already exists", "feed": toFeedResponse(existing)})
		return
	}

	doc, err := h.Parser.ParseFeed(ctx, req.URL, feed.Options{Timeout: h.ManualTimeout, UserAgent: h.UserAgent})
	if err != nil {
		slog.Warn("Feed validation failed", "url", req.URL, "error", err)
		c.JSON(feedErrorResponse(err))
		return
	}

	created, err := h.Feeds.CreateFeed(ctx, database.NewFeed{
		URL:                    req.URL,
		Type:                   string(doc.Type),
		Title:                  cmp.Or(req.Title, doc.Title),
		RefreshIntervalMinutes: req.RefreshIntervalMinutes,
		ExtractContent:         req.ExtractContent,
	}, h.now())
	if err != nil {
		slog.Error("Database error", "operation", "create_feed", "url", req.URL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create feed"})
		return
	}

	slog.Info("Feed created", "feed", created.ID, "url", created.URL, "type", created.Type)

	resp := gin.H{"feed": toFeedResponse(created)}

	res, err := h.Scheduler.RefreshFeed(ctx, created.ID)
	if err != nil {
		slog.Warn("Initial refresh skipped", "feed", created.ID, "error", err)
	} else {
		resp["refresh"] = refreshResponse(res)
		if refreshed, err := h.Feeds.GetFeed(ctx, created.ID); err == nil {
			resp["feed"] = toFeedResponse(refreshed)
		}
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) UpdateFeed(c *gin.Context) {
	ctx := c.Request.Context()

	id, ok := paramID(c)
	if !ok {
		return
	}

	var req updateFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if req.RefreshIntervalMinutes != nil {
		minutes := *req.RefreshIntervalMinutes
		if minutes < 1 || minutes > maxRefreshInterval {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid refresh interval"})
			return
		}
	}

	now := h.now()
	var err error
	if req.RefreshIntervalMinutes != nil {
		err = h.Feeds.SetRefreshInterval(ctx, id, *req.RefreshIntervalMinutes, now)
	}
	if err == nil && req.Paused != nil {
		err = h.Feeds.SetPaused(ctx, id, *req.Paused, now)
	}
	if err == nil && req.ExtractContent != nil {
		err = h.Feeds.SetExtractContent(ctx, id, *req.ExtractContent, now)
	}
	if !h.checkFound(c, err, "update_feed", "Feed not found") {
		return
	}

	f, err := h.Feeds.GetFeed(ctx, id)
	if !h.checkFound(c, err, "get_feed", "Feed not found") {
		return
	}

	c.JSON(http.StatusOK, toFeedResponse(f))
}

func (h *Handler) DeleteFeed(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	err := h.Feeds.SoftDeleteFeed(c.Request.Context(), id, h.now())
	if !h.checkFound(c, err, "delete_feed", "Feed not found") {
		return
	}

	slog.Info("Feed deleted", "feed", id)
	c.Status(http.StatusNoContent)
}

// RefreshFeed refreshes one feed now. A failed refresh answers 502 with the
// underlying error message.
func (h *Handler) RefreshFeed(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	res, err := h.Scheduler.RefreshFeed(c.Request.Context(), id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	case errors.Is(err, scheduler.ErrFeedBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "Feed is already being refreshed"})
		return
	case err != nil:
		slog.Error("Database error", "operation", "refresh_feed", "feed", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if !res.Success {
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "Failed to refresh feed",
			"details": res.Error,
		})
		return
	}

	c.JSON(http.StatusOK, refreshResponse(res))
}

func (h *Handler) ListArticles(c *gin.Context) {
	var q database.ArticleQuery

	if raw := c.Query("feed_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid feed_id"})
			return
		}
		q.FeedID = id
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		q.Limit = min(limit, maxArticlesLimit)
	}

	articles, err := h.Articles.ListArticles(c.Request.Context(), q)
	if err != nil {
		slog.Error("Database error", "operation", "list_articles", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	resp := make([]articleResponse, 0, len(articles))
	for i := range articles {
		resp = append(resp, toArticleResponse(&articles[i], false))
	}

	c.JSON(http.StatusOK, gin.H{
		"articles": resp,
		"total":    len(resp),
	})
}

func (h *Handler) GetArticle(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	a, err := h.Articles.GetArticle(c.Request.Context(), id)
	if !h.checkFound(c, err, "get_article", "Article not found") {
		return
	}

	c.JSON(http.StatusOK, toArticleResponse(a, true))
}

func (h *Handler) GetSettings(c *gin.Context) {
	s, err := h.Settings.GetSettings(c.Request.Context(), h.UserID)
	if err != nil {
		slog.Error("Database error", "operation", "get_settings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"refresh_interval_minutes": s.RefreshIntervalMinutes,
		"next_refresh_at":          s.NextRefreshAt,
	})
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if req.RefreshIntervalMinutes < 1 || req.RefreshIntervalMinutes > maxRefreshInterval {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid refresh interval"})
		return
	}

	if err := h.Settings.SetRefreshInterval(c.Request.Context(), h.UserID, req.RefreshIntervalMinutes); err != nil {
		slog.Error("Database error", "operation", "set_refresh_interval", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	h.GetSettings(c)
}

func (h *Handler) GetSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Scheduler.Status())
}

func refreshResponse(res pipeline.Result) gin.H {
	return gin.H{
		"success":       res.Success,
		"new_articles":  res.NewArticles,
		"next_fetch_at": res.NextFetchAt,
		"error":         res.Error,
	}
}

// feedErrorResponse maps fetcher errors to a status and a structured body.
func feedErrorResponse(err error) (int, gin.H) {
	var (
		invalidURL *feed.InvalidURLError
		fetchErr   *feed.FetchError
		parseErr   *feed.ParseError
	)

	switch {
	case errors.As(err, &invalidURL):
		return http.StatusBadRequest, gin.H{"error": "Invalid feed URL", "details": invalidURL.Reason}
	case errors.As(err, &fetchErr):
		body := gin.H{"error": "Failed to fetch feed", "details": fetchErr.Error()}
		if fetchErr.StatusCode != 0 {
			body["status_code"] = fetchErr.StatusCode
		}
		return http.StatusBadGateway, body
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity, gin.H{"error": "Not a valid feed", "details": parseErr.Error()}
	default:
		return http.StatusBadGateway, gin.H{"error": "Failed to fetch feed", "details": err.Error()}
	}
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id parameter"})
		return 0, false
	}
	return id, true
}

// checkFound writes the error response for err and reports whether the
// handler may continue.
func (h *Handler) checkFound(c *gin.Context, err error, operation, notFound string) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
		return false
	}
	slog.Error("Database error", "operation", operation, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
	return false
}
