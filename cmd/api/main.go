package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presence/internal/attendance"
	"presence/internal/auth"
	"presence/internal/config"
	"presence/internal/handler"
	"presence/internal/httpmiddleware"
	"presence/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defaults, err := cfg.FormationDefaults()
	if err != nil {
		return err
	}

	var (
		repo   attendance.Repository
		checks []handler.HealthCheck
	)
	switch cfg.StoreBackend {
	case "memory":
		log.Println("store: in-memory, data is lost on restart")
		repo = attendance.NewMemoryRepository()
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		pg := attendance.NewPostgresRepository(db.Client)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		repo = pg
		checks = append(checks, handler.HealthCheck{Name: "db", Check: db.Healthy})
	}

	// Redis is optional for the API; when configured it is reported on /api/healthz.
	if cfg.RedisAddr != "" {
		redisClient, err := store.NewRedis(cfg.Redis())
		if err != nil {
			return err
		}
		defer redisClient.Close()
		checks = append(checks, handler.HealthCheck{Name: "redis", Check: redisClient.Healthy})
	}

	if cfg.Passphrase == "" {
		log.Println("WARNING: APP_PASSPHRASE not set, logins are refused")
	}
	issuer := auth.NewIssuer(cfg.Passphrase, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.SessionTTL)
	svc := attendance.NewService(repo, defaults)
	h := handler.New(svc, issuer, checks...)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/api/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition"},
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.Metrics())
	r.Use(httpmiddleware.NewTokenBucket("api", cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Routes(r, httpmiddleware.NewTokenBucket("login", cfg.LoginPerMin, cfg.LoginPerMin).GinMiddleware())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s (formation %s to %s)", cfg.HTTPPort, cfg.FormationStart, cfg.FormationEnd)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
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
