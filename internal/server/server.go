package server

import (
	"context"
	"fmt"
	nethttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/BundleOS/backend/internal/api/middleware"
	"github.com/GriffinCanCode/BundleOS/backend/internal/appcontrol"
	"github.com/GriffinCanCode/BundleOS/backend/internal/checker"
	"github.com/GriffinCanCode/BundleOS/backend/internal/config"
	"github.com/GriffinCanCode/BundleOS/backend/internal/events"
	"github.com/GriffinCanCode/BundleOS/backend/internal/fsworker"
	installdgrpc "github.com/GriffinCanCode/BundleOS/backend/internal/grpc/installd"
	"github.com/GriffinCanCode/BundleOS/backend/internal/http"
	"github.com/GriffinCanCode/BundleOS/backend/internal/installer"
	"github.com/GriffinCanCode/BundleOS/backend/internal/logging"
	"github.com/GriffinCanCode/BundleOS/backend/internal/monitoring"
	"github.com/GriffinCanCode/BundleOS/backend/internal/parser"
	"github.com/GriffinCanCode/BundleOS/backend/internal/permission"
	"github.com/GriffinCanCode/BundleOS/backend/internal/quickfix"
	"github.com/GriffinCanCode/BundleOS/backend/internal/registry"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/id"
	"github.com/GriffinCanCode/BundleOS/backend/internal/signature"
	"github.com/GriffinCanCode/BundleOS/backend/internal/store"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	log      *logging.Logger
	cfg      *config.Config
	httpSrv  *nethttp.Server
	store    *store.Store
	registry *registry.Manager
	client   *installdgrpc.Client
}

// NewServer creates a new server instance. It opens the persistent store,
// reloads committed registry state, replays unfinished transactions, and
// wires the HTTP surface.
func NewServer(cfg *config.Config, log *logging.Logger) (*Server, error) {
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := registry.NewManager(st, log)
	pending, err := reg.LoadFromStore()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load registry: %w", err)
	}

	ids := id.NewAllocator(st)
	assignments, err := st.LoadBundleIDs()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load bundle ids: %w", err)
	}
	ids.Restore(assignments)

	profile, err := config.LoadProfile(cfg.Device.ProfilePath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load device profile: %w", err)
	}

	// The privileged worker is optional; without it the in-process
	// filesystem worker performs the same operations unprivileged.
	var fs installdgrpc.Service
	var client *installdgrpc.Client
	if cfg.Installd.Enabled {
		client = installdgrpc.New(cfg.Installd.Address, log)
		fs = client
		log.Info("using installd worker", zap.String("addr", cfg.Installd.Address))
	} else {
		fs = fsworker.NewLocal(cfg, log)
		log.Info("using in-process filesystem worker")
	}

	var gate appcontrol.Gate = appcontrol.AllowAll{}
	if cfg.AppControl.Enabled && cfg.AppControl.Endpoint != "" {
		gate = appcontrol.NewHTTPGate(cfg.AppControl.Endpoint, log)
	}

	hub := events.NewHub(log)
	metrics := monitoring.NewMetrics()

	ins := installer.New(installer.Deps{
		Config:    cfg,
		Registry:  reg,
		Parser:    parser.NewParser(),
		Verifier:  signature.NewVerifier(),
		Checker:   checker.New(profile, checker.SelectPolicy(profile, nil)),
		Authority: permission.NewAuthority(),
		Gate:      gate,
		Installd:  fs,
		IDs:       ids,
		PreStore:  st,
		Notifier:  hub,
		Logger:    log,
	})

	// Records that crashed mid-transaction are rolled back before the
	// service accepts requests.
	if len(pending) > 0 {
		log.Warn("replaying unfinished transactions", zap.Int("count", len(pending)))
		ins.ReplayUnfinished(context.Background(), pending)
	}

	stats := reg.GetStats()
	metrics.SetBundlesTracked(stats.TotalBundles)
	metrics.SetUsersTracked(stats.TotalUsers)

	deployer := quickfix.NewDeployer(cfg, profile, reg, fs, log)
	router := newRouter(cfg, ins, reg, deployer, hub, metrics)

	return &Server{
		log: log.Named("server"),
		cfg: cfg,
		httpSrv: &nethttp.Server{
			Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
			Handler: router,
		},
		store:    st,
		registry: reg,
		client:   client,
	}, nil
}

func newRouter(
	cfg *config.Config,
	ins *installer.Installer,
	reg *registry.Manager,
	deployer *quickfix.Deployer,
	hub *events.Hub,
	metrics *monitoring.Metrics,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := http.NewHandlers(ins, reg, deployer, hub, metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Bundle lifecycle
	router.POST("/bundles/install", handlers.Install)
	router.POST("/bundles/:name/uninstall", handlers.Uninstall)
	router.POST("/bundles/:name/modules/:module/uninstall", handlers.UninstallModule)
	router.POST("/bundles/:name/recover", handlers.Recover)
	router.POST("/bundles/:name/enabled", handlers.SetEnabled)

	// Queries
	router.GET("/bundles", handlers.ListBundles)
	router.GET("/bundles/:name", handlers.GetBundle)
	router.GET("/bundles/:name/stats", handlers.GetBundleStats)
	router.GET("/abilities", handlers.QueryAbility)
	router.GET("/abilities/action/:action", handlers.QueryAbilitiesByAction)
	router.GET("/abilities/uri", handlers.QueryAbilityByURI)
	router.GET("/extensions/:type", handlers.QueryExtensionsByType)

	// Quick fix
	router.POST("/quickfix/deploy", handlers.DeployQuickFix)
	router.DELETE("/quickfix/:name", handlers.DeleteQuickFix)

	// Observability
	router.GET("/stats", handlers.Stats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// WebSocket event stream
	router.GET("/stream", hub.HandleConnection)

	return router
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.log.Info("starting bundle manager", zap.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if err == nethttp.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", zap.Error(err))
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.log.Warn("installd client close", zap.Error(err))
		}
	}
	return s.store.Close()
}
