// Command voxcall is a terminal voice-call client. It signs in to a relay,
// rings or answers peers and streams microphone audio in push-to-talk turns:
// press space to talk, press again to send.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/voxcall/internal/app"
	"github.com/MrWong99/voxcall/internal/call"
	"github.com/MrWong99/voxcall/internal/config"
	"github.com/MrWong99/voxcall/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file with VOXCALL_* overrides")
	callPeer := flag.String("call", "", "user id to call right after connecting")
	noKeys := flag.Bool("no-keyboard", false, "disable keyboard controls (for headless runs)")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voxcall: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxcall: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxcall: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxcall starting",
		"version", version,
		"config", *configPath,
		"user_id", cfg.Identity.UserID,
		"relay_url", cfg.Signaling.RelayURL,
		"capture_mode", cfg.Capture.Mode,
	)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
		d := config.Diff(old, next)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, app.WithErrorHandler(func(err error) {
		slog.Error("call error", "err", err)
		fmt.Printf("\r! %v\n", err)
	}))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	sess := application.Session()
	sess.Subscribe(printTransition)

	if !*noKeys {
		ctl := newControls(sess, stop)
		go ctl.consumeTriggers(ctx)
		go ctl.listen()
		defer ctl.close()
		fmt.Println(helpText)
	}

	if *callPeer != "" {
		go func() {
			// Give the first connect a moment; a closed channel only delays
			// capture, the call itself is placed either way.
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			if err := sess.PlaceCall(ctx, call.Peer{ID: *callPeer}); err != nil {
				slog.Error("place call", "peer_id", *callPeer, "err", err)
			}
		}()
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// printTransition tells the user what happened to the call.
func printTransition(tr call.Transition) {
	peer := tr.To.PeerID()
	if tr.To.Peer != nil && tr.To.Peer.Name != "" {
		peer = fmt.Sprintf("%s (%s)", tr.To.Peer.Name, tr.To.Peer.ID)
	}
	switch {
	case tr.To.Status == call.StatusIncoming && tr.From.Status == call.StatusIdle:
		fmt.Printf("\r☎ incoming call from %s, press a to accept or r to reject\n", peer)
	case tr.Started():
		fmt.Printf("\r● connected with %s, press space to talk, press again to send\n", peer)
	case tr.Cause == call.CausePeerName:
		fmt.Printf("\r  peer is %s\n", peer)
	case tr.To.Status == call.StatusIdle:
		fmt.Printf("\r○ call ended (%s)\n", tr.Cause)
	}
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
