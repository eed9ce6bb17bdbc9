package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/fateweaver/internal/bus"
	"github.com/loqalabs/fateweaver/internal/config"
	"github.com/loqalabs/fateweaver/internal/natsserver"
	"github.com/loqalabs/fateweaver/internal/service"
	"github.com/loqalabs/fateweaver/internal/tts"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	telemetry     *telemetry
	comps         *Components
	nats          *natsserver.EmbeddedServer
	bus           *bus.Client
	svc           *service.Service
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component, serves until ctx is cancelled, then shuts
// down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	if err := r.buildComponents(ctx); err != nil {
		r.shutdownTelemetry()
		return err
	}

	if err := r.startBus(ctx); err != nil {
		r.stop()
		return err
	}

	handler := r.routes()
	if r.cfg.HTTP.Enabled {
		addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
		r.httpServer = &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.httpServer, "http")
	}
	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && r.telemetry.metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", r.telemetry.metricsHandler)
		r.metricsServer = &http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		r.serve(r.metricsServer, "metrics")
	}

	if r.cfg.Catalog.RetentionMode == "bounded" && r.comps.Catalog != nil {
		r.wg.Add(1)
		go r.pruneLoop(ctx)
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.Bool("http", r.cfg.HTTP.Enabled),
		slog.Bool("bus", r.cfg.Bus.Enabled),
		slog.String("llm_mode", r.cfg.LLM.Mode),
		slog.Bool("tts", r.cfg.TTS.Enabled))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.stop()
	return nil
}

func (r *Runtime) buildComponents(ctx context.Context) error {
	gen, err := NewGenerator(ctx, r.cfg.LLM)
	if err != nil {
		return fmt.Errorf("init generator: %w", err)
	}
	var synth tts.Synthesizer
	if r.cfg.TTS.Enabled {
		if synth, err = NewSynthesizer(r.cfg.TTS); err != nil {
			return fmt.Errorf("init synthesizer: %w", err)
		}
	}
	comps, err := BuildComponents(ctx, r.cfg, gen, synth, r.logger)
	if err != nil {
		return err
	}
	r.comps = comps
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		ns, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return err
		}
		r.nats = ns
		busCfg.Servers = []string{ns.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client

	r.svc = service.NewService(ctx, r.cfg.Service, client, r.comps.Sessions, r.logger)
	return r.svc.Start()
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.logger.Info("listening", slog.String("server", name), slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.comps.Catalog.Prune(ctx); err != nil {
				r.logger.Warn("catalog prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.svc != nil {
		r.svc.Close()
	}
	r.bus.Close()
	r.nats.Shutdown()
	r.wg.Wait()
	if err := r.comps.Close(); err != nil {
		r.logger.Error("catalog close error", slog.String("error", err.Error()))
	}
	r.shutdownTelemetry()
}

func (r *Runtime) shutdownTelemetry() {
	if r.telemetry == nil || r.telemetry.shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.telemetry.shutdown(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.telemetry != nil && r.telemetry.metricsHandler != nil {
		mux.Handle("/metrics", r.telemetry.metricsHandler)
	}
	if r.comps != nil {
		(&turnHandler{sessions: r.comps.Sessions, logger: r.logger.With(slog.String("component", "http"))}).register(mux)
	}
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.svc == nil || r.svc.Healthy()) && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
