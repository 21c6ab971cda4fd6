package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Harshitk-cp/inquest/internal/api/handlers"
	mw "github.com/Harshitk-cp/inquest/internal/api/middleware"
	"github.com/Harshitk-cp/inquest/internal/buildconfig"
	"github.com/Harshitk-cp/inquest/internal/config"
	"github.com/Harshitk-cp/inquest/internal/datasource"
	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/Harshitk-cp/inquest/internal/embedding"
	"github.com/Harshitk-cp/inquest/internal/llm"
	"github.com/Harshitk-cp/inquest/internal/metrics"
	"github.com/Harshitk-cp/inquest/internal/service"
	"github.com/Harshitk-cp/inquest/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// App holds the router and the long-lived services for lifecycle management.
type App struct {
	Router         *chi.Mux
	Investigations *service.InvestigationService
	Metrics        *metrics.Metrics

	stop      context.CancelFunc
	retention *service.RetentionService
}

// NewApp wires stores, clients, agents and handlers from the environment.
// A nil db runs everything in memory. reg receives the Prometheus collectors
// and is served on /metrics.
func NewApp(db *pgxpool.Pool, reg *prometheus.Registry, logger *zap.Logger) (*App, error) {
	// Stores
	var (
		tenantStore    domain.TenantStore
		chronicleStore interface {
			domain.ChronicleStore
			domain.ChroniclePruner
		}
		lessonStore domain.LessonStore
	)
	if db != nil {
		tenantStore = store.NewTenantStore(db)
		chronicleStore = store.NewChronicleStore(db)
		lessonStore = store.NewLessonStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, investigations are kept in memory")
		tenantStore = store.NewMemoryTenantStore()
		chronicleStore = store.NewMemoryChronicleStore()
		lessonStore = store.NewMemoryLessonStore()
	}

	// External clients via provider factory
	llmProvider := config.LLMProvider()
	reasoner, err := llm.NewClient(llmProvider, config.LLMAPIKey())
	if err != nil {
		return nil, fmt.Errorf("reasoning client: %w", err)
	}
	logger.Info("LLM client initialized", zap.String("provider", llmProvider))

	embeddingProvider := config.EmbeddingProvider()
	embedder, err := embedding.NewClient(embeddingProvider, config.EmbeddingAPIKey())
	if err != nil {
		logger.Warn("Embedding client initialization failed, lesson index disabled", zap.String("provider", embeddingProvider), zap.Error(err))
		embedder = nil
	} else if embedder != nil {
		logger.Info("Embedding client initialized", zap.String("provider", embeddingProvider))
	}

	source, err := newDataSource(logger)
	if err != nil {
		return nil, err
	}

	roster, err := config.LoadRoster(config.RosterPath())
	if err != nil {
		return nil, err
	}
	agents := make([]domain.SpecialistAgent, 0, len(roster.Agents))
	for _, def := range roster.Agents {
		a, err := service.NewDomainAgent(def, source, reasoner, logger)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	logger.Info("agent roster loaded", zap.Strings("agents", roster.Names()))

	registry, err := service.BuildRegistry(source, reasoner, agents)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	if err := m.Register(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	// Services
	var lessons *service.LessonService
	if embedder != nil {
		lessons = service.NewLessonService(lessonStore, embedder, logger)
	}
	investigations := service.NewInvestigationService(service.OrchestratorDeps{
		Agents:     agents,
		Validation: service.NewValidationEngine(service.DefaultConfidenceModel(), registry, logger),
		Context: service.ContextBuilder{
			MaxDisproven:   config.ContextMaxDisproven(),
			MaxConstraints: config.ContextMaxConstraints(),
			MaxChars:       config.ContextMaxChars(),
		},
		Sources:  source.Sources(),
		Store:    chronicleStore,
		Recorder: m,
	}, config.InvestigationDefaults(), lessons, logger)

	if key := config.BootstrapAPIKey(); key != "" {
		if err := bootstrapTenant(tenantStore, key); err != nil {
			return nil, err
		}
	}

	// Handlers
	tenantHandler := handlers.NewTenantHandler(tenantStore)
	investigationHandler := handlers.NewInvestigationHandler(investigations)
	lessonHandler := handlers.NewLessonHandler(lessons)

	ctx, stop := context.WithCancel(context.Background())
	limiter := mw.NewRateLimiter(config.RateLimitRPS(), config.RateLimitBurst())
	go limiter.RunCleanup(ctx, 10*time.Minute)

	r := chi.NewRouter()
	app := &App{
		Router:         r,
		Investigations: investigations,
		Metrics:        m,
		stop:           stop,
	}

	if retention := config.ChronicleRetention(); retention > 0 {
		app.retention = service.NewRetentionService(chronicleStore, retention, logger)
		app.retention.Start()
	}

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Metrics(m))
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(limiter.Middleware)

	// Unauthenticated
	r.Get("/health", healthHandler(db))
	r.Get("/version", versionHandler)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Post("/v1/tenants", tenantHandler.Create)

	// Authenticated routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(tenantStore))

		r.Route("/investigations", func(r chi.Router) {
			r.Post("/", investigationHandler.Start)
			r.Get("/", investigationHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", investigationHandler.Status)
				r.Get("/chronicle", investigationHandler.Chronicle)
				r.Get("/hypotheses", investigationHandler.Hypotheses)
				r.Post("/decisions", investigationHandler.Decide)
				r.Post("/stop", investigationHandler.Stop)
			})
		})

		r.Get("/lessons/similar", lessonHandler.Similar)
	})

	return app, nil
}

// Shutdown suspends running investigations at their next checkpoint and
// stops background work. Suspended investigations resume on next access.
func (app *App) Shutdown(ctx context.Context) error {
	app.stop()
	if app.retention != nil {
		app.retention.Stop()
	}
	return app.Investigations.Shutdown(ctx)
}

func newDataSource(logger *zap.Logger) (domain.DataSource, error) {
	if path := config.DataSourceFixtures(); path != "" {
		src, err := datasource.LoadFixtures(path)
		if err != nil {
			return nil, err
		}
		logger.Info("data source: fixtures", zap.String("path", path))
		return src, nil
	}
	if base := config.DataSourceBaseURL(); base != "" {
		logger.Info("data source: http", zap.String("base_url", base))
		return datasource.NewHTTPSource(base, nil, config.DataSourceTimeout(), config.DataSourceQueryCost()), nil
	}
	logger.Warn("no data source configured, every query will come back empty")
	return datasource.NewStaticSource(), nil
}

func bootstrapTenant(tenants domain.TenantStore, key string) error {
	hash := mw.HashAPIKey(key)
	ctx := context.Background()
	if _, err := tenants.GetByAPIKeyHash(ctx, hash); err == nil {
		return nil
	}
	tenant, err := domain.NewTenant("default", hash)
	if err != nil {
		return err
	}
	err = tenants.Create(ctx, tenant)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("bootstrap tenant: %w", err)
	}
	return nil
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(buildconfig.VersionInfo())
}
