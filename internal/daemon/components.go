package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/store"
)

// connectNATS dials url and keeps reconnecting for the lifetime of the daemon. The
// connection is returned even while the server is still unreachable.
func connectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("focusguard-daemon"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.TransportError("connect to NATS").
			WithCause(err).
			WithContext("url", url).
			Retryable().
			Build()
	}
	return conn, nil
}

// openStore opens the configured backend, retrying transient failures such as a NATS
// server that is still starting.
func (d *Daemon) openStore(ctx context.Context) (store.Store, error) {
	if d.injected != nil {
		return d.injected, nil
	}
	var st store.Store
	err := d.storeRetry.Do(ctx, func() error {
		var err error
		st, err = d.dialStore(ctx)
		return err
	}, func(attempt int, err error, wait time.Duration) {
		d.logger.Warn("Store unavailable, retrying",
			logfields.Store(string(d.config.Store.Backend)),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			logfields.Error(err))
	})
	return st, err
}

func (d *Daemon) dialStore(ctx context.Context) (store.Store, error) {
	cfg := d.config
	opts := []store.Option{
		store.WithLogger(d.logger),
		store.WithPollInterval(cfg.Store.PollInterval),
	}
	if cfg.Store.Backend == store.KindNATS && d.conn != nil {
		return store.NewNATSStore(ctx, d.conn, cfg.NATS.Bucket, opts...)
	}
	return store.Open(ctx, store.Spec{
		Kind:   cfg.Store.Backend,
		Path:   cfg.Store.Path,
		URL:    cfg.NATS.URL,
		Bucket: cfg.NATS.Bucket,
	}, opts...)
}
