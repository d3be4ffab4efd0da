package cli

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/cachebay/prefill/internal/config"
	"github.com/cachebay/prefill/internal/conn"
	"github.com/cachebay/prefill/internal/durable"
	"github.com/cachebay/prefill/internal/logging"
	"github.com/cachebay/prefill/internal/session"
	"github.com/cachebay/prefill/internal/transport"
)

// app bundles the pieces every command needs: config, logger, and the
// durable state store rooted in the state directory.
type app struct {
	cfg      *config.Config
	logger   hclog.Logger
	store    durable.Store
	stateDir string
}

func loadApp() (*app, error) {
	stateDir := stateDirFlag
	if stateDir == "" {
		dir, err := config.DefaultStateDir()
		if err != nil {
			return nil, err
		}
		stateDir = dir
	}

	cfg, err := config.LoadConfig(stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logging.New(),
		store:    durable.NewFileStore(stateDir),
		stateDir: stateDir,
	}, nil
}

// dialFunc builds the transport dial used by the connection manager.
func (a *app) dialFunc() conn.DialFunc {
	return func(ctx context.Context) (conn.Channel, error) {
		return transport.Dial(ctx, a.cfg.Controller.URL,
			transport.WithAuthToken(a.cfg.Controller.AuthToken),
			transport.WithReconnectInterval(a.cfg.ReconnectInterval()),
			transport.WithLogger(a.logger.Named("transport")),
		)
	}
}

// connect establishes the channel through the connection manager.
func (a *app) connect(ctx context.Context) (*conn.Manager, conn.Channel, error) {
	mgr := conn.NewManager(a.dialFunc(), conn.WithLogger(a.logger.Named("conn")))
	ch, err := mgr.Connect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to controller: %w", err)
	}
	return mgr, ch, nil
}

// attachSession adopts or creates the controller session and registers
// the progress subscription so reconnects resubscribe automatically.
func (a *app) attachSession(ctx context.Context, mgr *conn.Manager, ch conn.Channel) (*session.Store, error) {
	sess := session.NewStore(session.WithLogger(a.logger.Named("session")))
	snap, err := sess.Attach(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("failed to attach session: %w", err)
	}

	if err := mgr.Subscribe(ctx, snap.Info.ID); err != nil {
		return nil, fmt.Errorf("failed to subscribe to session: %w", err)
	}
	return sess, nil
}
