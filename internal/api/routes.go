package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"propmarket/server/config"
)

const adminTokenHeader = "X-Admin-Token"

// NewRouter builds the engine with recovery, request logging and CORS, and
// registers every route.
func NewRouter(cfg config.ServerConfig, handler *Handler, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	corsConfig := cors.Config{
		AllowOrigins:  cfg.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", adminTokenHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	SetupRoutes(router, handler, cfg.AdminToken)
	return router
}

func SetupRoutes(router *gin.Engine, handler *Handler, adminToken string) {
	api := router.Group("/api")
	{
		api.GET("/listings/:id/nearby", handler.GetNearby)
		api.GET("/listings/:id/valuation", handler.GetValuation)
		api.GET("/projects/:name/opportunities", handler.GetProjectOpportunities)
		api.POST("/events/listings/:id", handler.ListingChanged)
		api.POST("/events/pois/:id", handler.POIChanged)
	}

	admin := api.Group("/admin", requireAdminToken(adminToken))
	{
		admin.POST("/listings/:id/sync", handler.SyncListing)
		admin.POST("/listings/:id/repair", handler.RepairListing)
		admin.POST("/pois/:id/sync", handler.SyncPOI)
		admin.POST("/rebuild/proximity", handler.RebuildProximity)
		admin.POST("/rebuild/intelligence", handler.RebuildIntelligence)
		admin.POST("/rebuild/convenience", handler.RebuildConvenience)
	}
}

// requireAdminToken guards operator routes. An empty token disables them.
func requireAdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Operator routes are disabled"})
			return
		}
		given := c.GetHeader(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid admin token"})
			return
		}
		c.Next()
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request failed")
			return
		}
		entry.Debug("Request handled")
	}
}
