package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/fluxorio/callcenter/internal/settings"
	"github.com/fluxorio/callcenter/pkg/config"
	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/core/concurrency"
	"github.com/fluxorio/callcenter/pkg/db"
	"github.com/fluxorio/callcenter/pkg/manager"
	"github.com/fluxorio/callcenter/pkg/observability/otel"
	"github.com/fluxorio/callcenter/pkg/observability/prometheus"
	"github.com/fluxorio/callcenter/pkg/recorder"
	"github.com/fluxorio/callcenter/pkg/task"
	"github.com/fluxorio/callcenter/pkg/web"
	"github.com/fluxorio/callcenter/pkg/web/middleware"
	"github.com/fluxorio/callcenter/pkg/web/middleware/auth"
	"github.com/fluxorio/callcenter/pkg/web/middleware/security"
)

const shutdownTimeout = 30 * time.Second

// service is the assembled serve command: engine, recorders, HTTP front
// and admin endpoints
type service struct {
	settings *settings.Settings
	logger   core.Logger

	cfg     *config.Config
	mgr     *manager.Manager
	server  *web.Server
	admin   *http.Server
	poller  *prometheus.SnapshotPoller
	metrics *prometheus.Metrics
	gather  prom.Gatherer
	tracing bool

	broadcaster *recorder.Broadcaster
	// closers release recorders and connections in reverse order
	closers []func(context.Context) error
}

func newService(ctx context.Context, s *settings.Settings, logger core.Logger) (svc *service, err error) {
	built := &service{settings: s, logger: logger}
	defer func() {
		if err != nil {
			_ = built.close(context.Background())
		}
	}()
	svc = built

	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registerer := prom.WrapRegistererWith(prom.Labels{"service": "callcenter"}, reg)
	svc.gather = reg
	svc.metrics = prometheus.NewMetrics(registerer)

	if s.Tracing.Exporter != otel.ExporterNone {
		err = otel.Initialize(ctx, otel.Config{
			ServiceName:    "callcenter",
			ServiceVersion: Version,
			Environment:    s.Tracing.Environment,
			Exporter:       s.Tracing.Exporter,
			Endpoint:       s.Tracing.Endpoint,
			SampleRate:     s.Tracing.SampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		svc.tracing = true
		svc.closers = append(svc.closers, otel.Shutdown)
		logger.Info("tracing enabled", "exporter", s.Tracing.Exporter, "endpoint", s.Tracing.Endpoint)
	}

	svc.cfg, err = config.New(config.NewFileSource(s.EngineConfig, ""), config.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("load engine config: %w", err)
	}
	if fb := svc.cfg.Fallback(); fb != nil {
		logger.Warn("engine config unreadable, running on defaults", "path", s.EngineConfig, "error", fb)
	}

	recs, pool, err := svc.openRecorders(ctx)
	if err != nil {
		return nil, err
	}

	svc.mgr, err = manager.New(svc.cfg,
		manager.WithHandler(task.NewOperator(s.Operator.Unit)),
		manager.WithRecorders(recs...),
		manager.WithLogger(logger.WithFields(map[string]interface{}{"component": "manager"})),
		manager.WithObserver(svc.metrics),
		manager.WithTracer(otel.Tracer("github.com/fluxorio/callcenter/pkg/manager")),
	)
	if err != nil {
		return nil, fmt.Errorf("create manager: %w", err)
	}

	if err := svc.buildHTTP(); err != nil {
		return nil, err
	}

	pollOpts := []prometheus.PollerOption{
		prometheus.WithEngine(svc.mgr),
		prometheus.WithServer(svc.server),
	}
	if pool != nil {
		pollOpts = append(pollOpts, prometheus.WithDB(pool))
	}
	svc.poller, err = prometheus.NewSnapshotPoller(registerer, svc.metrics, s.Admin.PollInterval, pollOpts...)
	if err != nil {
		return nil, fmt.Errorf("create snapshot poller: %w", err)
	}

	if s.Admin.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", prometheus.Handler(svc.gather))
		mux.Handle("/ws/records", svc.broadcaster)
		svc.admin = &http.Server{
			Addr:              s.Admin.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return svc, nil
}

// openRecorders builds the configured CDR recorders. Slow sinks are put
// behind an Async buffer so workers never wait on them.
func (svc *service) openRecorders(ctx context.Context) ([]concurrency.Recorder, *db.Pool, error) {
	s := svc.settings.Records
	logger := svc.logger.WithFields(map[string]interface{}{"component": "recorder"})
	onError := recorder.WithErrorHandler(svc.metrics.RecordFailed)

	var recs []concurrency.Recorder
	async := func(next recorder.Recorder) concurrency.Recorder {
		a := recorder.NewAsync(next, s.Buffer, recorder.WithAsyncLogger(logger), onError)
		svc.closers = append(svc.closers, a.Close)
		return a
	}

	svc.broadcaster = recorder.NewBroadcaster(logger)
	svc.closers = append(svc.closers, func(context.Context) error {
		svc.broadcaster.Close()
		return nil
	})
	recs = append(recs, svc.broadcaster)

	if s.Log {
		recs = append(recs, recorder.NewLog(logger))
	}

	if s.File != "" {
		f, err := recorder.NewFile(recorder.FileConfig{Path: s.File, Buffer: s.Buffer, MaxBytes: s.FileMaxBytes}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open CDR file: %w", err)
		}
		svc.closers = append(svc.closers, f.Close)
		recs = append(recs, f)
		logger.Info("recording to file", "path", s.File)
	}

	var pool *db.Pool
	if s.SQLDriver != "" {
		var err error
		pool, err = db.NewPool(db.DefaultPoolConfig(s.SQLDSN, s.SQLDriver))
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		svc.closers = append(svc.closers, func(context.Context) error { return pool.Close() })

		sqlRec, err := recorder.NewSQL(ctx, pool, 5*time.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("prepare call records: %w", err)
		}
		recs = append(recs, async(sqlRec))
		logger.Info("recording to database", "driver", s.SQLDriver, "run_id", sqlRec.RunID())
	}

	if s.NATSURL != "" {
		n, err := recorder.DialNATS(recorder.NATSConfig{URL: s.NATSURL, Prefix: s.NATSPrefix})
		if err != nil {
			return nil, nil, err
		}
		svc.closers = append(svc.closers, func(context.Context) error { return n.Close() })
		recs = append(recs, async(n))
		logger.Info("publishing records", "subject", n.Subject())
	}
	return recs, pool, nil
}

func (svc *service) buildHTTP() error {
	s := svc.settings
	srvCfg := web.DefaultServerConfig(s.HTTP.Addr)
	srvCfg.MaxInFlight = s.HTTP.MaxInFlight

	var err error
	svc.server, err = web.NewServer(srvCfg, svc.logger.WithFields(map[string]interface{}{"component": "http"}))
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	router := svc.server.Router()
	router.Use(
		middleware.Recovery(middleware.RecoveryConfig{Logger: svc.logger}),
		prometheus.FastHTTPMetricsMiddleware(svc.metrics),
		middleware.AccessLog(svc.logger),
		security.Headers(security.DefaultHeadersConfig()),
	)
	if svc.tracing {
		router.Use(otel.HTTPMiddleware())
	}
	if s.HTTP.RateLimit > 0 {
		router.Use(security.RateLimit(security.RateLimitConfig{
			RequestsPerSecond: s.HTTP.RateLimit,
			Burst:             s.HTTP.RateBurst,
		}))
	}

	apiCfg := web.APIConfig{CallTimeout: s.HTTP.CallTimeout}
	if s.Auth.JWTSecret != "" {
		jwtCfg := auth.DefaultJWTConfig(s.Auth.JWTSecret)
		jwtCfg.Issuer = s.Auth.Issuer
		jwtCfg.Logger = svc.logger
		guard, err := auth.JWT(jwtCfg)
		if err != nil {
			return fmt.Errorf("configure /update auth: %w", err)
		}
		apiCfg.UpdateMiddleware = append(apiCfg.UpdateMiddleware, guard)
	} else {
		svc.logger.Warn("/update is not authenticated; set auth.jwt_secret to protect it")
	}

	web.NewCallAPI(svc.mgr, apiCfg, svc.logger).Register(router)
	return nil
}

// run serves until ctx is done, then shuts everything down. Nil listeners
// are opened on the configured addresses.
func (svc *service) run(ctx context.Context, httpLn, adminLn net.Listener) error {
	var err error
	if httpLn == nil {
		if httpLn, err = net.Listen("tcp", svc.settings.HTTP.Addr); err != nil {
			return fmt.Errorf("listen http: %w", err)
		}
	}
	if svc.admin != nil && adminLn == nil {
		if adminLn, err = net.Listen("tcp", svc.admin.Addr); err != nil {
			httpLn.Close()
			return fmt.Errorf("listen admin: %w", err)
		}
	}

	if err := svc.mgr.Start(ctx); err != nil {
		httpLn.Close()
		if adminLn != nil {
			adminLn.Close()
		}
		return errors.Join(fmt.Errorf("start manager: %w", err), svc.close(context.Background()))
	}
	svc.poller.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.logger.Info("http server listening", "addr", httpLn.Addr().String())
		return svc.server.Serve(httpLn)
	})
	if svc.admin != nil {
		g.Go(func() error {
			svc.logger.Info("admin server listening", "addr", adminLn.Addr().String())
			if err := svc.admin.Serve(adminLn); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if svc.settings.Watch {
		g.Go(func() error {
			if err := svc.cfg.Watch(gctx, config.DefaultDebounce); err != nil {
				svc.logger.Warn("engine config watch disabled", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return svc.shutdown()
	})

	return g.Wait()
}

func (svc *service) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	svc.logger.Info("shutting down")
	var errs []error

	// Stopping the engine first resolves every waiting request
	if err := svc.mgr.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop manager: %w", err))
	}
	if err := svc.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop http server: %w", err))
	}
	if svc.admin != nil {
		if err := svc.admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop admin server: %w", err))
		}
	}
	svc.poller.Stop()

	if err := svc.close(ctx); err != nil {
		errs = append(errs, err)
	}
	svc.logger.Info("stopped")
	return errors.Join(errs...)
}

func (svc *service) close(ctx context.Context) error {
	var errs []error
	for i := len(svc.closers) - 1; i >= 0; i-- {
		if err := svc.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	svc.closers = nil
	return errors.Join(errs...)
}
