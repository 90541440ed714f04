package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/foxzi/followup/internal/api"
	"github.com/foxzi/followup/internal/cache"
	"github.com/foxzi/followup/internal/config"
	"github.com/foxzi/followup/internal/leads"
	"github.com/foxzi/followup/internal/metrics"
	"github.com/foxzi/followup/internal/notify"
	"github.com/foxzi/followup/internal/sequences"
	"github.com/foxzi/followup/internal/session"
)

// runtime is everything a command needs to talk to the backend
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	session *session.FileStore
	client  *api.Client
	cache   *cache.BoltCache
	notify  notify.Notifier
	closers []io.Closer
}

// setup loads configuration and opens the session and cache. With
// logToFile the logger writes to state_dir/followup.log instead of stderr.
func setup(logToFile bool) (*runtime, error) {
	path := configFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, notify: consoleNotifier{}}

	var out io.Writer = os.Stderr
	if logToFile {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath()), 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		rt.closers = append(rt.closers, f)
		out = f
	}
	rt.logger = newLogger(cfg.Logging, out)
	slog.SetDefault(rt.logger)

	rt.session, err = session.Init(cfg.Session.StateDir)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.Cache.Enabled {
		c, err := cache.Open(cfg.Cache.Path)
		if err != nil {
			// Another followup process may hold the lock; run uncached.
			rt.logger.Warn("snapshot cache unavailable", "path", cfg.Cache.Path, "error", err)
		} else {
			rt.cache = c
			rt.closers = append(rt.closers, c)
			rt.session.OnLogout(func() {
				if err := c.Clear(); err != nil {
					rt.logger.Warn("failed to clear cache", "error", err)
				}
			})
		}
	}

	rt.client = api.NewClient(cfg.API.BaseURL, rt.session,
		api.WithTimeout(cfg.API.Timeout),
		api.WithLogger(rt.logger),
	)
	return rt, nil
}

// Close releases the cache and log file
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i].Close()
	}
	rt.closers = nil
}

// requireLogin fails early when no token is stored
func (rt *runtime) requireLogin() error {
	if rt.session.Token() == "" {
		return fmt.Errorf("not logged in, run `followup login` first")
	}
	return nil
}

func (rt *runtime) leadStore(n notify.Notifier) *leads.Store {
	var opts []leads.Option
	if rt.cache != nil {
		opts = append(opts, leads.WithCache(rt.cache))
	}
	return leads.New(rt.client, n, rt.logger, opts...)
}

func (rt *runtime) catalog(n notify.Notifier) *sequences.Catalog {
	var opts []sequences.Option
	if rt.cache != nil {
		opts = append(opts, sequences.WithCache(rt.cache))
	}
	return sequences.New(rt.client, n, rt.logger, opts...)
}

// startMetrics installs the global registry and serves it until ctx ends.
// It is a no-op unless metrics are enabled.
func (rt *runtime) startMetrics(ctx context.Context) {
	mc := rt.cfg.Metrics
	if !mc.Enabled {
		return
	}
	m := metrics.New()
	metrics.SetGlobal(m)
	srv := metrics.NewServer(m, mc.ListenAddr, mc.Path, mc.AllowedIPs, rt.logger)
	go func() {
		if err := srv.Run(ctx); err != nil {
			rt.logger.Error("metrics server error", "error", err)
		}
	}()
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECB71"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

// consoleNotifier prints notifications for one-shot commands. Both kinds
// go to stderr so stdout stays clean for piped output such as CSV.
type consoleNotifier struct{}

func (consoleNotifier) Success(msg string) { fmt.Fprintln(os.Stderr, okStyle.Render("✓ "+msg)) }
func (consoleNotifier) Error(msg string)   { fmt.Fprintln(os.Stderr, failStyle.Render("✗ "+msg)) }

// confirm asks on stdin unless --yes was given
var confirm notify.Confirmer = func(prompt string) bool {
	if assumeYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
