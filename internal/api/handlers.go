package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"propmarket/server/internal/database"
	"propmarket/server/internal/geometry"
	"propmarket/server/internal/models"
	"propmarket/server/internal/processor"
	"propmarket/server/internal/proximity"
	"propmarket/server/internal/queue"
	"propmarket/server/internal/valuation"
)

type ListingStore interface {
	GetListing(ctx context.Context, id uint) (*models.Listing, error)
}

type NearbyFinder interface {
	NearbyPOIs(ctx context.Context, listingID uint, q models.NearbyQuery) ([]models.NearbyPOI, error)
}

type Syncer interface {
	SyncListing(ctx context.Context, listingID uint) (proximity.SyncResult, error)
	SyncPOI(ctx context.Context, poiID uint) (proximity.SyncResult, error)
	RecomputeConvenienceFields(ctx context.Context, listingID uint) (bool, error)
}

type BatchRunner interface {
	RunProximityBatch(ctx context.Context) (processor.BatchResult, error)
	RunIntelligenceBatch(ctx context.Context, limit int) (int, error)
	RepairConvenienceFields(ctx context.Context) (processor.BatchResult, error)
}

type ProjectValuer interface {
	ProjectOpportunities(ctx context.Context, project string) (*valuation.ProjectView, error)
}

type TaskQueue interface {
	Push(task queue.Task) error
}

// Services are the collaborators the handlers delegate to.
type Services struct {
	Listings  ListingStore
	Nearby    NearbyFinder
	Syncer    Syncer
	Batches   BatchRunner
	Valuation ProjectValuer
	Queue     TaskQueue
}

type Handler struct {
	listings  ListingStore
	nearby    NearbyFinder
	syncer    Syncer
	batches   BatchRunner
	valuation ProjectValuer
	queue     TaskQueue
	logger    *logrus.Logger
}

type NearbyParams struct {
	MaxKm    float64 `form:"max_km" binding:"gte=0"`
	Category string  `form:"category"`
	Tier     string  `form:"tier"`
	Limit    int     `form:"limit" binding:"gte=0"`
	Format   string  `form:"format"`
}

func NewHandler(s Services, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	return &Handler{
		listings:  s.Listings,
		nearby:    s.Nearby,
		syncer:    s.Syncer,
		batches:   s.Batches,
		valuation: s.Valuation,
		queue:     s.Queue,
		logger:    logger,
	}
}

func (h *Handler) GetNearby(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var params NearbyParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	query, err := params.toQuery()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listing, err := h.listings.GetListing(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to get listing")
		return
	}

	rows, err := h.nearby.NearbyPOIs(c.Request.Context(), id, query)
	if err != nil {
		h.fail(c, err, "Failed to get nearby POIs")
		return
	}

	if params.Format == "geojson" {
		c.JSON(http.StatusOK, geometry.NearbyFeatureCollection(listing, rows))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listing_id": id,
		"nearest":    listing.Nearest,
		"pois":       rows,
	})
}

func (p NearbyParams) toQuery() (models.NearbyQuery, error) {
	q := models.NearbyQuery{
		MaxDistanceKm: p.MaxKm,
		Limit:         p.Limit,
	}

	if p.Category != "" {
		for _, raw := range strings.Split(p.Category, ",") {
			category := models.POICategory(strings.TrimSpace(raw))
			if !category.Valid() {
				return q, fmt.Errorf("unknown category %q", raw)
			}
			q.Categories = append(q.Categories, category)
		}
	}

	if p.Tier != "" {
		tier := models.POITier(p.Tier)
		if !tier.Valid() {
			return q, fmt.Errorf("unknown tier %q", p.Tier)
		}
		q.Tier = tier
	}

	return q, nil
}

func (h *Handler) GetValuation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	listing, err := h.listings.GetListing(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to get listing")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listing_id": id,
		"valuation":  listing.Valuation,
	})
}

func (h *Handler) GetProjectOpportunities(c *gin.Context) {
	view, err := h.valuation.ProjectOpportunities(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, err, "Failed to compute project opportunities")
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListingChanged queues the proximity sync and the valuation refresh of a
// listing. The caller does not wait for either.
func (h *Handler) ListingChanged(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	h.enqueue(c,
		queue.Task{Kind: queue.TaskSyncListing, ID: id},
		queue.Task{Kind: queue.TaskRecomputeValuation, ID: id},
	)
}

// POIChanged queues the fact refresh of a POI.
func (h *Handler) POIChanged(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	h.enqueue(c, queue.Task{Kind: queue.TaskSyncPOI, ID: id})
}

// enqueue pushes tasks in order. When a push fails the response is 503 and
// "queued" counts the tasks that did get in. Every task kind is idempotent, so
// the caller can resend the whole event.
func (h *Handler) enqueue(c *gin.Context, tasks ...queue.Task) {
	for i, task := range tasks {
		if err := h.queue.Push(task); err != nil {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"kind":   task.Kind,
				"id":     task.ID,
				"queued": i,
			}).Warn("Failed to queue task")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":  "Sync queue unavailable, retry later",
				"queued": i,
				"tasks":  len(tasks),
			})
			return
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "tasks": len(tasks)})
}

func (h *Handler) SyncListing(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	result, err := h.syncer.SyncListing(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to sync listing")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) SyncPOI(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	result, err := h.syncer.SyncPOI(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to sync POI")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) RepairListing(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	changed, err := h.syncer.RecomputeConvenienceFields(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to repair listing")
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing_id": id, "changed": changed})
}

func (h *Handler) RebuildProximity(c *gin.Context) {
	result, err := h.batches.RunProximityBatch(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Proximity rebuild failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) RebuildIntelligence(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	updated, err := h.batches.RunIntelligenceBatch(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err, "Intelligence rebuild failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *Handler) RebuildConvenience(c *gin.Context) {
	result, err := h.batches.RepairConvenienceFields(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Convenience repair failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

// fail maps not-found to 404 and everything else to 500.
func (h *Handler) fail(c *gin.Context, err error, message string) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	h.logger.WithError(err).WithField("path", c.FullPath()).Error(message)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}
