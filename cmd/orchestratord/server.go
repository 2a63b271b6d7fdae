// Copyright 2025 Stratagem
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"stratagem/core/analytics"
	"stratagem/core/config"
	"stratagem/core/memory"
	"stratagem/core/orchestrator/cache"
	"stratagem/core/orchestrator/capability"
	"stratagem/core/orchestrator/metrics"
	"stratagem/core/shared/logger"
)

// defaultProfiles backs the daemon when no config file is given: a single
// balanced profile and no providers (register them via the config file).
const defaultProfiles = `
default_profile: balanced
profiles:
  balanced:
    max_retries: 3
    fan_out: 3
    coordination_enabled: true
    cache:
      result_ttl: 5m
`

// server bundles every wired component behind the HTTP handlers.
type server struct {
	registry *capability.Registry
	router   *capability.Router
	coord    *capability.Coordinator
	monitor  *capability.HealthMonitor
	cache    *cache.MultiLevelCache
	metrics  *metrics.Collector
	models   *analytics.Manager
	engine   *analytics.Engine
	store    memory.Store
	cfg      *config.Manager
	log      *logger.Logger
}

func run() error {
	stdlog := log.New(os.Stdout, "[ORCHESTRATORD] ", log.LstdFlags)
	stdlog.Println("Starting Stratagem orchestrator...")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := newServer(cfg, stdlog, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	s.monitor.Start(monitorCtx)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.routes())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		stdlog.Printf("Listening on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	stdlog.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.monitor.Stop()
	s.cache.Close()
	if err := s.store.Close(); err != nil {
		stdlog.Printf("closing conversation store: %v", err)
	}
	stdlog.Println("Shutdown complete")
	return nil
}

func loadConfig() (*config.Manager, error) {
	if path := os.Getenv("STRATAGEM_CONFIG"); path != "" {
		return config.Load(path)
	}
	return config.LoadBytes([]byte(defaultProfiles))
}

// newServer wires registry, monitor, cache, metrics, analytics, memory,
// and config into one server. Optional backends (redis, sqlite, postgres)
// degrade to local state when unavailable rather than failing startup.
func newServer(cfg *config.Manager, stdlog *log.Logger, reg prometheus.Registerer) (*server, error) {
	s := &server{
		cfg: cfg,
		log: logger.New("orchestratord"),
	}

	s.registry = capability.NewRegistry()
	for _, pc := range cfg.Providers() {
		provider, err := capability.NewHTTPProvider(pc, nil)
		if err != nil {
			return nil, fmt.Errorf("building provider %s: %w", pc.Name, err)
		}
		if err := s.registry.Register(pc, provider); err != nil {
			return nil, fmt.Errorf("registering provider %s: %w", pc.Name, err)
		}
		stdlog.Printf("Registered provider %s (%s)", pc.Name, pc.Type)
	}

	s.monitor = capability.NewHealthMonitor(s.registry)
	s.metrics = metrics.NewCollector(reg)
	s.cache = buildCache(cfg.Active().Cache, stdlog)

	s.router = capability.NewRouter(s.registry,
		capability.WithCache(s.cache),
		capability.WithCallRecorder(s.metrics),
	)
	s.coord = capability.NewCoordinator(s.router, nil)

	// Profile swaps propagate to the router through its atomic config.
	cfg.Subscribe(func(p config.Profile) {
		s.router.UpdateConfig(p.RouterConfig())
	})

	s.models = analytics.NewManager()
	s.engine = analytics.NewEngine(s.models)

	s.store = buildStore(stdlog)
	return s, nil
}

func buildCache(settings config.CacheSettings, stdlog *log.Logger) *cache.MultiLevelCache {
	opts := []cache.Option{}
	if settings.MemoryCapacity > 0 {
		opts = append(opts, cache.WithMemoryCapacity(settings.MemoryCapacity))
	}
	if settings.DiskPath != "" {
		opts = append(opts, cache.WithDiskTier(settings.DiskPath))
	}
	if settings.SharedURL != "" {
		opts = append(opts, cache.WithSharedTier(settings.SharedURL))
	}

	c, err := cache.New(opts...)
	if err != nil {
		stdlog.Printf("Cache tier init failed (%v), continuing memory-only", err)
		c, _ = cache.New()
	}
	return c
}

func buildStore(stdlog *log.Logger) memory.Store {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		stdlog.Println("DATABASE_URL not set, conversation memory is in-process only")
		return memory.NewInMemoryStore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pg, err := memory.OpenPostgresStore(ctx, dsn)
	if err != nil {
		stdlog.Printf("Postgres store unavailable (%v), conversation memory is in-process only", err)
		return memory.NewInMemoryStore()
	}
	return memory.NewFallbackStore(pg, nil)
}

// routes builds the HTTP route table.
func (s *server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/v1/query", s.queryHandler).Methods("POST")
	r.HandleFunc("/api/v1/predict", s.predictHandler).Methods("POST")

	r.HandleFunc("/api/v1/providers/status", s.providerStatusHandler).Methods("GET")
	r.HandleFunc("/api/v1/metrics", s.metricsHandler).Methods("GET")

	r.HandleFunc("/api/v1/models/status", s.modelStatusHandler).Methods("GET")
	r.HandleFunc("/api/v1/models/{domain}/train", s.trainHandler).Methods("POST")
	r.HandleFunc("/api/v1/models/{domain}/history", s.modelHistoryHandler).Methods("GET")

	r.HandleFunc("/api/v1/sessions/{id}/history", s.sessionHistoryHandler).Methods("GET")
	r.HandleFunc("/api/v1/sessions/{id}/context", s.sessionContextHandler).Methods("GET")

	r.HandleFunc("/api/v1/config/profile", s.swapProfileHandler).Methods("PUT")

	return r
}
