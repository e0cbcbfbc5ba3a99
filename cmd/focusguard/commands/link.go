package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/focusguard/internal/broadcast"
	"git.home.luguber.info/inful/focusguard/internal/config"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/messaging"
	"git.home.luguber.info/inful/focusguard/internal/mirror"
	"git.home.luguber.info/inful/focusguard/internal/store"
)

// Link is a connection to the daemon. A nil Sender means the daemon is unreachable.
type Link struct {
	Sender messaging.Sender
	Source broadcast.Source
	Close  func()
}

// DialFunc opens a Link at a trust level.
type DialFunc func(ctx context.Context, cfg *config.Config, trust messaging.Trust, logger *slog.Logger) (*Link, error)

// dialNATS connects without retrying. An unreachable server yields an empty Link so
// commands can fall back to the store.
func dialNATS(_ context.Context, cfg *config.Config, trust messaging.Trust, logger *slog.Logger) (*Link, error) {
	link := &Link{Close: func() {}}
	if cfg.NATS.URL == "" {
		return link, nil
	}
	conn, err := nats.Connect(cfg.NATS.URL,
		nats.Name("focusguard-cli"),
		nats.Timeout(cfg.Messaging.RequestTimeout),
		nats.ReconnectWait(250*time.Millisecond),
	)
	if err != nil {
		logger.Debug("Daemon bus unreachable", slog.String("url", cfg.NATS.URL), logfields.Error(err))
		return link, nil
	}
	subjects := messaging.Subjects{Prefix: cfg.NATS.SubjectPrefix}
	link.Sender = messaging.NewNATSClient(conn, subjects, trust, cfg.Messaging.RequestTimeout, logger)
	link.Source = broadcast.NATSSource{Conn: conn, Subject: subjects.Events(), Logger: logger}
	link.Close = conn.Close
	return link, nil
}

// openMirror builds a mirror with a store fallback. The returned func releases
// everything it opened.
func openMirror(ctx context.Context, g *Global, cfg *config.Config, trust messaging.Trust, logger *slog.Logger, opts ...mirror.Option) (*mirror.Mirror, func(), error) {
	dial := dialNATS
	if g != nil && g.Dial != nil {
		dial = g.Dial
	}
	link, err := dial(ctx, cfg, trust, logger)
	if err != nil {
		return nil, nil, err
	}

	closers := []func(){link.Close}
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] != nil {
				closers[i]()
			}
		}
	}

	// A private in-memory store would hide the daemon's state rather than mirror it.
	if cfg.Store.Backend != store.KindMemory {
		st, err := store.Open(ctx, store.Spec{
			Kind:   cfg.Store.Backend,
			Path:   cfg.Store.Path,
			URL:    cfg.NATS.URL,
			Bucket: cfg.NATS.Bucket,
		}, store.WithLogger(logger))
		if err != nil {
			logger.Debug("Store fallback unavailable", logfields.Store(string(cfg.Store.Backend)), logfields.Error(err))
		} else {
			opts = append(opts, mirror.WithStore(st))
			closers = append(closers, func() { _ = st.Close() })
		}
	}

	opts = append(opts, mirror.WithLogger(logger))
	return mirror.New(link.Sender, link.Source, trust, opts...), release, nil
}

func trustFor(untrusted bool) messaging.Trust {
	if untrusted {
		return messaging.Untrusted
	}
	return messaging.Trusted
}
