// Package daemon wires the demo session components together and runs them
// until shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/al-bashkir/demo-sessiond/internal/analytics"
	"github.com/al-bashkir/demo-sessiond/internal/clock"
	"github.com/al-bashkir/demo-sessiond/internal/config"
	"github.com/al-bashkir/demo-sessiond/internal/httpserver"
	"github.com/al-bashkir/demo-sessiond/internal/ipc"
	"github.com/al-bashkir/demo-sessiond/internal/lifecycle"
	"github.com/al-bashkir/demo-sessiond/internal/oidc"
	"github.com/al-bashkir/demo-sessiond/internal/ratelimit"
	"github.com/al-bashkir/demo-sessiond/internal/remote"
	"github.com/al-bashkir/demo-sessiond/internal/store"
	"github.com/al-bashkir/demo-sessiond/internal/tabs"
	"github.com/al-bashkir/demo-sessiond/internal/validator"
)

// Daemon represents the main daemon process that coordinates all components.
type Daemon struct {
	cfg        *config.Config
	tabs       *tabs.Manager
	httpServer *httpserver.Server
	ipcServer  *ipc.Server
}

// New creates a new daemon with all components initialized.
func New(cfg *config.Config, version string) (*Daemon, error) {
	clk := clock.System{}

	codec, err := store.NewCodec(cfg.Store.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store codec: %w", err)
	}
	if cfg.Store.Secret == "" {
		slog.Warn("store.secret not set, using a random per-process key")
	}

	remoteClient, err := newRemoteClient(cfg)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(clk)
	v := validator.New(remoteClient, limiter, clk, validator.Options{
		MaxDuration: cfg.Demo.MaxDuration,
		Timeout:     cfg.Remote.Timeout,
		Limit:       policy(cfg.Demo.ValidationLimit),
	})

	slog.Info("validator initialized",
		"remote", cfg.Remote.ValidateURL != "",
		"max_duration", cfg.Demo.MaxDuration,
		"timeout", cfg.Remote.Timeout,
	)

	tabMgr := tabs.NewManager(tabs.Deps{
		Clock:     clk,
		Limiter:   limiter,
		Validator: v,
		Codec:     codec,
		Sink:      remoteClient,
	}, tabsConfig(cfg))

	slog.Info("tab manager initialized",
		"idle_timeout", cfg.Demo.TabIdleTimeout,
		"max_tabs", cfg.Demo.MaxTabs,
	)

	httpServer, err := httpserver.NewServer(cfg, tabMgr, version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	slog.Info("HTTP server initialized",
		"listen", cfg.Listen.HTTP,
		"tls", cfg.TLS.Enabled,
	)

	ipcServer := ipc.NewServer(cfg.Listen.Socket, func(ctx context.Context, req *ipc.Request) (*ipc.Response, error) {
		return handleAdminRequest(ctx, tabMgr, req)
	})

	slog.Info("admin socket initialized",
		"socket", cfg.Listen.Socket,
	)

	return &Daemon{
		cfg:        cfg,
		tabs:       tabMgr,
		httpServer: httpServer,
		ipcServer:  ipcServer,
	}, nil
}

// newRemoteClient builds the client for the validation endpoint and the
// analytics sink, authenticated with client credentials when an issuer is
// configured.
func newRemoteClient(cfg *config.Config) (*remote.Client, error) {
	timeout := cfg.Remote.Timeout
	if cfg.Remote.FlushTimeout > timeout {
		timeout = cfg.Remote.FlushTimeout
	}
	base := &http.Client{Timeout: timeout}

	httpClient := base
	if cfg.Remote.Issuer != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		provider, err := oidc.NewProvider(ctx, &cfg.Remote)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OIDC provider: %w", err)
		}
		httpClient = provider.HTTPClient(context.Background(), base)

		slog.Info("OIDC client credentials initialized",
			"issuer", cfg.Remote.Issuer,
			"token_url", provider.TokenURL(),
			"client_id", cfg.Remote.ClientID,
		)
	}

	return remote.NewClient(httpClient, cfg.Remote.ValidateURL, cfg.Remote.AnalyticsURL, timeout), nil
}

func policy(l config.LimitConfig) ratelimit.Policy {
	return ratelimit.Policy{MaxAttempts: l.MaxAttempts, Window: l.Window}
}

func tabsConfig(cfg *config.Config) tabs.Config {
	return tabs.Config{
		Controller: lifecycle.Options{
			MaxDuration:        cfg.Demo.MaxDuration,
			RevalidateInterval: cfg.Demo.RevalidateInterval,
			ActivationLimit:    policy(cfg.Demo.ActivationLimit),
		},
		Recorder: analytics.Options{
			Cap:          cfg.Demo.EventCap,
			FlushTimeout: cfg.Remote.FlushTimeout,
		},
		StaleAfter:   cfg.Store.StaleAfter,
		IdleTimeout:  cfg.Demo.TabIdleTimeout,
		TickInterval: cfg.Demo.TickInterval,
		MaxTabs:      cfg.Demo.MaxTabs,
	}
}

// Run starts all daemon components and blocks until a shutdown signal is
// received.
func (d *Daemon) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.run(ctx)
}

func (d *Daemon) run(ctx context.Context) error {
	slog.Info("starting demo session daemon")

	// Start the admin socket synchronously to catch startup errors
	if err := d.ipcServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}

	loopCtx, cancelLoops := context.WithCancel(context.Background())
	defer cancelLoops()
	d.tabs.Start(loopCtx)

	httpErrCh := make(chan error, 1)
	go func() {
		if err := d.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			slog.Error("HTTP server failed to start", "error", err)
			runErr = fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.ipcServer.Stop(); err != nil {
		slog.Error("error stopping IPC server", "error", err)
	}

	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error stopping HTTP server", "error", err)
	}

	// End every running demo and flush its analytics before exiting
	d.tabs.Stop()
	d.tabs.Close(shutdownCtx)

	slog.Info("daemon shutdown complete")
	return runErr
}

// handleAdminRequest serves status and end_session requests from the admin
// socket.
func handleAdminRequest(ctx context.Context, tabMgr *tabs.Manager, req *ipc.Request) (*ipc.Response, error) {
	switch req.Type {
	case ipc.MessageTypeStatus:
		infos := tabMgr.List()
		resp := &ipc.Response{Status: ipc.StatusOK, Tabs: make([]ipc.TabStatus, 0, len(infos))}
		for _, info := range infos {
			resp.Tabs = append(resp.Tabs, ipc.TabStatus{
				TabID:            info.ID,
				State:            info.Status.State.String(),
				Role:             string(info.Status.Role),
				SessionID:        info.Status.SessionID,
				RemainingSeconds: int64(info.Status.Remaining / time.Second),
				LastSeen:         info.LastSeen.UnixMilli(),
			})
		}
		return resp, nil

	case ipc.MessageTypeEndSession:
		if req.TabID == "" {
			return nil, fmt.Errorf("tab_id is required")
		}
		ended, err := tabMgr.EndSession(ctx, req.TabID, lifecycle.ReasonAdmin)
		if err != nil {
			return nil, err
		}
		if ended {
			slog.Info("demo session ended by admin", "tab_id", req.TabID)
		}
		return &ipc.Response{Status: ipc.StatusOK, Ended: ended}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ipc.ErrUnknownType, req.Type)
	}
}
