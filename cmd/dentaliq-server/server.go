package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/dentaliq/api/internal/assistant"
	"github.com/dentaliq/api/internal/config"
	"github.com/dentaliq/api/internal/domain/chat"
	"github.com/dentaliq/api/internal/domain/patient"
	"github.com/dentaliq/api/internal/platform/auth"
	"github.com/dentaliq/api/internal/platform/db"
	"github.com/dentaliq/api/internal/platform/generation"
	"github.com/dentaliq/api/internal/platform/middleware"
)

// PatientRepoAdapter adapts a patient.Repository to chat.PatientSource so the
// chat package does not import the patient package.
type PatientRepoAdapter struct {
	repo patient.Repository
}

func NewPatientRepoAdapter(repo patient.Repository) *PatientRepoAdapter {
	return &PatientRepoAdapter{repo: repo}
}

// PatientRecord implements chat.PatientSource.
func (a *PatientRepoAdapter) PatientRecord(ctx context.Context, id uuid.UUID) (*chat.PatientRecord, error) {
	p, err := a.repo.GetByID(ctx, id)
	if errors.Is(err, patient.ErrNotFound) {
		return nil, chat.ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chat.PatientRecord{
		Name:         p.Name,
		DateOfBirth:  p.DOB,
		MedicalNotes: p.MedicalNotes,
		Archived:     p.Archived(),
	}, nil
}

// staffRoles may use the API. admin passes every role check.
var staffRoles = []string{"staff", "dentist"}

// deps are the collaborators the API router is built from.
type deps struct {
	DB        db.Pinger
	PoolStats func() *db.PoolStats
	Patients  patient.Repository
	Turns     chat.TurnRepository
	Gateway   *generation.Gateway
	ChatStore echomw.RateLimiterStore
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	chatStore, closeStore, err := newChatStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	gateway := generation.New(generation.Config{Endpoint: cfg.AIServiceURL, Timeout: cfg.AITimeout})
	logger.Info().Str("mode", gateway.Mode()).Str("endpoint", cfg.AIServiceURL).Msg("generation gateway ready")

	e := newRouter(cfg, logger, deps{
		DB:        pool,
		PoolStats: func() *db.PoolStats { return db.GetPoolStats(pool) },
		Patients:  patient.NewRepo(pool),
		Turns:     chat.NewTurnRepo(pool),
		Gateway:   gateway,
		ChatStore: chatStore,
	})
	return serve(ctx, e, ":"+cfg.Port, logger)
}

// newChatStore returns the per-caller chat limiter store: Redis backed when
// REDIS_URL is set, in memory otherwise.
func newChatStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (echomw.RateLimiterStore, func(), error) {
	if cfg.RedisURL == "" {
		return middleware.NewChatMemoryStore(cfg.ChatRateLimitPerMin), func() {}, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := middleware.NewRedisClient(pingCtx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("chat rate limit backed by redis")
	store := middleware.NewRedisStore(client, "dentaliq:chat", cfg.ChatRateLimitPerMin, time.Minute, logger)
	return store, func() { client.Close() }, nil
}

func newRouter(cfg *config.Config, logger zerolog.Logger, d deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":     "ok",
			"generation": d.Gateway.Mode(),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		})
	})
	e.GET("/health/db", db.HealthHandler(d.DB, d.PoolStats))
	e.GET("/health/generation", d.Gateway.HealthHandler())

	jwtAuth := auth.JWTMiddleware(auth.JWTConfig{
		SigningKey: []byte(cfg.JWTSecret),
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
	})
	api := e.Group("/api/v1")
	if cfg.IsDev() && cfg.JWTSecret == "" {
		api.Use(auth.DevAuthMiddleware(nil))
	} else if cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware(jwtAuth))
	} else {
		api.Use(jwtAuth)
	}
	api.Use(auth.RequireRole(staffRoles...))

	patient.NewHandler(patient.NewService(d.Patients)).RegisterRoutes(api)

	chatSvc := chat.NewService(d.Turns, NewPatientRepoAdapter(d.Patients), d.Gateway, cfg.ChatHistoryWindow, logger)
	chat.NewHandler(chatSvc).RegisterRoutes(api, middleware.ChatRateLimit(d.ChatStore))

	return e
}

func newAssistantServer(svc *assistant.Service, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit("64K"))

	assistant.NewHandler(svc).RegisterRoutes(e)
	return e
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
