package main

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"eventportal/internal/auth"
	"eventportal/internal/config"
	"eventportal/internal/handler"
	"eventportal/internal/httpmiddleware"
	"eventportal/internal/metrics"
	"eventportal/internal/store"
)

type routerDeps struct {
	handler *handler.Handler
	auth    *auth.Authenticator
	limiter httpmiddleware.Limiter
	db      *store.DB
	redis   *store.Redis
}

func newRouter(cfg config.App, logger *zap.Logger, d routerDeps) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(cfg)))
	r.Use(securityHeaders())
	r.Use(metrics.Middleware())
	r.Use(httpmiddleware.RateLimit(d.limiter, logger))
	r.Use(d.auth.RoutePolicy("/admin", "/login"))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := d.redis.Healthy(c.Request.Context())
		dbHealthy := d.db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	d.handler.Register(r)

	// Pages
	pages := filepath.Join(cfg.WebDir, "pages")
	r.StaticFile("/", filepath.Join(cfg.WebDir, "index.html"))
	r.StaticFile("/donate", filepath.Join(pages, "donate.html"))
	r.StaticFile("/receipt", filepath.Join(pages, "receipt.html"))
	r.StaticFile("/login", filepath.Join(pages, "login.html"))
	r.StaticFile("/admin", filepath.Join(pages, "admin.html"))
	r.StaticFile("/admin/scan", filepath.Join(pages, "scan.html"))
	r.Static("/static", filepath.Join(cfg.WebDir, "static"))

	return r
}

func corsConfig(cfg config.App) cors.Config {
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{cfg.PublicBaseURL}
	}
	return cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
