package router

import (
	"database/sql"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/floworx-io/floworx/handlers"
	"github.com/floworx-io/floworx/internal/config"
	"github.com/floworx-io/floworx/services"
)

func NewGinRouter(pg *sql.DB, redisClient *redis.Client) *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Initialize services. Redis-backed cache when Redis is configured,
	// in-process TTL cache otherwise.
	var cache services.ConfigCache
	if redisClient != nil {
		cache = services.NewRedisCache(redisClient)
	} else {
		cache = services.NewMemoryCache()
	}

	configService := services.NewConfigService(pg, cache)
	historyService := services.NewHistoryService(pg)
	vipService := services.NewVIPService(pg)
	evaluator := services.NewEvaluator(configService, historyService, vipService)
	ruleService := services.NewRuleService(pg, configService, evaluator)
	authService := services.NewAuthService(config.App.JWTSecret)

	// Initialize handlers
	ruleHandler := handlers.NewRuleHandler(ruleService)
	configHandler := handlers.NewConfigHandler(configService)
	historyHandler := handlers.NewHistoryHandler(historyService)
	authMiddleware := handlers.NewAuthMiddleware(authService)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.Use(authMiddleware.RequireAuth())
	{
		api.GET("/rules", ruleHandler.ListRules)
		api.POST("/rules", ruleHandler.CreateRule)
		api.PUT("/rules/:id", ruleHandler.UpdateRule)
		api.DELETE("/rules/:id", ruleHandler.DeleteRule)
		api.GET("/rules/stats", ruleHandler.GetRuleStats)
		api.POST("/rules/evaluate", ruleHandler.EvaluateEmail)
		api.POST("/rules/evaluate-batch", ruleHandler.EvaluateBatch)

		api.GET("/config/:type", configHandler.GetConfig)
		api.PUT("/config/:type", configHandler.SetConfig)
		api.POST("/config/:type/validate", configHandler.ValidateConfigOnly)

		api.POST("/history/emails", historyHandler.RecordInbound)
		api.POST("/history/emails/:id/responded", historyHandler.MarkResponded)
	}

	return r
}
