package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/voiceform/internal/archive"
	"github.com/loqalabs/voiceform/internal/bus"
	"github.com/loqalabs/voiceform/internal/config"
	"github.com/loqalabs/voiceform/internal/console"
	"github.com/loqalabs/voiceform/internal/eventstore"
	"github.com/loqalabs/voiceform/internal/form"
	"github.com/loqalabs/voiceform/internal/natsserver"
	"github.com/loqalabs/voiceform/internal/playback"
	"github.com/loqalabs/voiceform/internal/submit"
	"github.com/loqalabs/voiceform/internal/telemetry"
)

// Runtime wires the form to its adapters and runs the console until the user
// quits or ctx is cancelled.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	httpServer    *http.Server
	telemetryStop func(context.Context) error
	metrics       http.Handler
	store         *eventstore.Store
	embedded      *natsserver.EmbeddedServer
	bus           *bus.Client
	form          *form.Form

	addr  atomic.Value
	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger, in io.Reader, out io.Writer) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
		in:     in,
		out:    out,
	}
}

// Addr returns the ops server address once it is listening.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

func (r *Runtime) Start(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		if shutdownErr := r.shutdown(); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()

	shutdownTelemetry, metricsHandler, err := telemetry.Setup(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryStop = shutdownTelemetry
	r.metrics = metricsHandler

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store

	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		embedded, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		r.embedded = embedded
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		busClient, err := bus.Connect(ctx, busCfg, r.cfg.ClientName, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		r.bus = busClient
	}

	if r.cfg.HTTP.Enabled {
		if err := r.startHTTP(); err != nil {
			return err
		}
	}

	con := console.New(r.in, r.out, r.logger)
	f, err := r.buildForm(ctx, con)
	if err != nil {
		return err
	}
	r.form = f
	con.Bind(f)

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("endpoint", r.cfg.Submit.Endpoint))

	if err := con.Run(ctx); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	r.logger.Info("runtime stopping")
	return nil
}

func (r *Runtime) buildForm(ctx context.Context, notifier form.Notifier) (*form.Form, error) {
	source, format, err := newSource(r.cfg.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to configure capture: %w", err)
	}
	factory, err := newPlaybackFactory(r.cfg.Playback)
	if err != nil {
		return nil, fmt.Errorf("failed to configure playback: %w", err)
	}
	sink, err := archive.New(ctx, r.cfg.Archive, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure archive: %w", err)
	}

	journals := []form.Journal{r.store}
	if r.bus != nil {
		journals = append(journals, r.bus)
	}

	return form.New(form.Options{
		Source:      source,
		Format:      format,
		Submitter:   submit.NewClient(r.cfg.Submit, r.logger),
		Player:      playback.NewPlayer(factory, r.logger),
		Archive:     sink,
		ArchiveName: r.cfg.Archive.Filename,
		Journal:     form.Journals(journals...),
		Notifier:    notifier,
		Logger:      r.logger,
	}), nil
}

func (r *Runtime) startHTTP() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.addr.Store(ln.Addr().String())
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("ops server listening", slog.String("addr", ln.Addr().String()))
	return nil
}

func (r *Runtime) shutdown() error {
	r.ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if r.form != nil {
		if err := r.form.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("close form: %w", err))
		}
	}
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
		r.wg.Wait()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.embedded.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event store: %w", err))
		}
	}
	if r.telemetryStop != nil {
		if err := r.telemetryStop(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
