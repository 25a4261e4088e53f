// Package app wires the voxcall subsystems into a running client.
//
// The App owns the full lifecycle: New builds the call log, directory
// client, audio devices, signaling channel and session; Run connects and
// serves the health and metrics endpoints until the context ends; Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithChannel,
// WithSource, ...). Anything not injected is built from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxcall/internal/calllog"
	"github.com/MrWong99/voxcall/internal/calllog/postgres"
	"github.com/MrWong99/voxcall/internal/capture"
	"github.com/MrWong99/voxcall/internal/config"
	"github.com/MrWong99/voxcall/internal/directory"
	"github.com/MrWong99/voxcall/internal/health"
	"github.com/MrWong99/voxcall/internal/observe"
	"github.com/MrWong99/voxcall/internal/playback"
	"github.com/MrWong99/voxcall/internal/session"
	"github.com/MrWong99/voxcall/internal/signaling"
	"github.com/MrWong99/voxcall/pkg/audio"
	"github.com/MrWong99/voxcall/pkg/audio/mic"
	"github.com/MrWong99/voxcall/pkg/audio/player"
)

const (
	shutdownGrace     = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	recentCallsLimit  = 20
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	channel   session.Channel
	source    audio.Source
	sinks     playback.SinkFactory
	directory session.Directory
	callLog   calllog.Store
	onError   func(error)

	session  *session.Session
	server   *http.Server
	checkers []health.Checker

	// closers run in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithChannel injects the signaling channel.
func WithChannel(ch session.Channel) Option {
	return func(a *App) { a.channel = ch }
}

// WithSource injects the microphone.
func WithSource(src audio.Source) Option {
	return func(a *App) { a.source = src }
}

// WithSinks injects the playback sink factory.
func WithSinks(f playback.SinkFactory) Option {
	return func(a *App) { a.sinks = f }
}

// WithDirectory injects the directory client.
func WithDirectory(d session.Directory) Option {
	return func(a *App) { a.directory = d }
}

// WithCallLog injects the call log store.
func WithCallLog(s calllog.Store) Option {
	return func(a *App) { a.callLog = s }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithErrorHandler receives user-facing session errors. By default they are
// logged.
func WithErrorHandler(fn func(error)) Option {
	return func(a *App) { a.onError = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds an App from cfg. Connecting to the relay happens in Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.onError == nil {
		a.onError = func(err error) { slog.Error("call error", "err", err) }
	}

	if err := a.initCallLog(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init call log: %w", err)
	}
	if err := a.initDirectory(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init directory: %w", err)
	}
	a.initAudio()
	a.initChannel()

	sess, err := session.New(session.Config{
		Identity: signaling.Identity{
			UserID:       cfg.Identity.UserID,
			LanguageCode: cfg.Identity.LanguageCode,
		},
		Channel: a.channel,
		Source:  a.source,
		Sinks:   a.sinks,
		Capture: capture.Config{
			Mode:      cfg.Capture.Mode,
			Interval:  cfg.Capture.Interval,
			QueueSize: cfg.Capture.QueueSize,
		},
		Playback: playback.Config{
			Policy:       cfg.Playback.Policy,
			QueueSize:    cfg.Playback.QueueSize,
			PollInterval: cfg.Playback.PollInterval,
		},
		Directory: a.directory,
		CallLog:   a.callLog,
		OnError:   a.onError,
		Metrics:   a.metrics,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.session = sess
	a.checkers = append([]health.Checker{health.Signaling(sess.Ready)}, a.checkers...)

	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCallLog opens the PostgreSQL store when a DSN is configured and falls
// back to memory otherwise.
func (a *App) initCallLog(ctx context.Context) error {
	if a.callLog != nil {
		return nil
	}
	if dsn := a.cfg.CallLog.PostgresDSN; dsn != "" {
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.callLog = store
		a.checkers = append(a.checkers, health.Ping("calllog", store))
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		slog.Info("call log: using postgres")
		return nil
	}
	limit := a.cfg.CallLog.MemoryLimit
	if limit == 0 {
		limit = config.DefaultMemoryLimit
	}
	a.callLog = calllog.NewMemStore(limit)
	return nil
}

func (a *App) initDirectory() error {
	if a.directory != nil || a.cfg.Directory.URL == "" {
		return nil
	}
	opts := []directory.Option{
		directory.WithMetrics(a.metrics),
		directory.WithToken(a.cfg.Directory.Token),
	}
	if t := a.cfg.Directory.Timeout; t > 0 {
		opts = append(opts, directory.WithHTTPClient(&http.Client{Timeout: t}))
	}
	c, err := directory.New(a.cfg.Directory.URL, opts...)
	if err != nil {
		return err
	}
	a.directory = c
	return nil
}

func (a *App) initAudio() {
	if a.source == nil {
		a.source = mic.New(mic.WithDevice(a.cfg.Audio.InputDevice))
	}
	if a.sinks == nil {
		cmd := a.cfg.Audio.Player
		if len(cmd) == 0 {
			cmd = config.DefaultPlayer
		}
		a.sinks = func(ctx context.Context) (audio.Sink, error) {
			return player.NewProcess(ctx, cmd[0], cmd[1:]...)
		}
	}
}

func (a *App) initChannel() {
	if a.channel != nil {
		return
	}
	sig := a.cfg.Signaling
	a.channel = signaling.New(signaling.Config{
		URL:               sig.RelayURL,
		ReconnectDelay:    sig.ReconnectDelay,
		MaxReconnectDelay: sig.MaxReconnectDelay,
		MaxRetries:        sig.MaxRetries,
		DialTimeout:       sig.DialTimeout,
		WriteTimeout:      sig.WriteTimeout,
	}, signaling.WithMetrics(a.metrics))
}

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the health, metrics and call history routes.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(a.checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /calls", a.handleCalls)
	return observe.Middleware(a.metrics)(mux)
}

type callJSON struct {
	ID        string    `json:"id"`
	PeerID    string    `json:"peer_id"`
	PeerName  string    `json:"peer_name,omitempty"`
	Direction string    `json:"direction"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Seconds   float64   `json:"duration_seconds"`
	EndReason string    `json:"end_reason"`
}

// handleCalls lists recent finished calls, newest first. ?limit=N caps the
// result.
func (a *App) handleCalls(w http.ResponseWriter, r *http.Request) {
	limit := recentCallsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	recs, err := a.session.RecentCalls(r.Context(), limit)
	if err != nil {
		slog.Warn("app: list calls", "err", err)
		http.Error(w, "call log unavailable", http.StatusServiceUnavailable)
		return
	}

	out := make([]callJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, callJSON{
			ID:        rec.ID.String(),
			PeerID:    rec.PeerID,
			PeerName:  rec.PeerName,
			Direction: string(rec.Direction),
			StartedAt: rec.StartedAt,
			EndedAt:   rec.EndedAt,
			Seconds:   rec.Duration().Seconds(),
			EndReason: string(rec.EndReason),
		})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Session returns the call session.
func (a *App) Session() *session.Session { return a.session }

// Run connects to the relay and serves HTTP until ctx is cancelled. A failed
// first connect is not fatal; the channel keeps retrying in the background.
func (a *App) Run(ctx context.Context) error {
	if err := a.session.Start(ctx); err != nil {
		slog.Warn("initial connect failed; retrying in background", "err", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
		slog.Info("http server listening", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	slog.Info("app running", "user_id", a.cfg.Identity.UserID, "session_id", a.session.ID())
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the session and then the stores. If ctx expires first the
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.session != nil {
			if err := a.session.Close(); err != nil {
				slog.Warn("session close error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what New opened before it failed.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
