package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/focusguard/internal/config"
	"git.home.luguber.info/inful/focusguard/internal/daemon"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct{}

func (d *DaemonCmd) Run(g *Global, root *CLI) error {
	cfg, logger, err := root.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := g.context()
	defer cancel()
	return RunDaemon(ctx, cfg, logger)
}

// RunDaemon runs the daemon until ctx is done, then stops it gracefully.
func RunDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	d, err := daemon.New(cfg, daemon.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(ctx); err != nil {
		return err
	}
	logger.Info("Daemon started, waiting for shutdown signal...")

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping daemon...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	logger.Info("Daemon stopped successfully")
	return nil
}
