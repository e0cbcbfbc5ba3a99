package commands

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/focusguard/internal/config"
)

// Global carries process-wide dependencies into every command.
type Global struct {
	Stdout io.Writer
	// Ctx is the base context. Nil means one cancelled by SIGINT or SIGTERM.
	Ctx context.Context
	// Dial overrides how commands reach the daemon. Nil connects over NATS.
	Dial DialFunc
}

// CLI definition & global flags - used by commands that need access to root config.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"focusguard.yaml" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Daemon       DaemonCmd  `cmd:"" help:"Run the state daemon until interrupted"`
	Init         InitCmd    `cmd:"" help:"Write a default configuration file"`
	Get          GetCmd     `cmd:"" help:"Read state through the daemon"`
	Set          SetCmd     `cmd:"" help:"Update state with KEY=VALUE assignments"`
	Flow         FlowCmd    `cmd:"" help:"Start or end a flow session"`
	Watch        WatchCmd   `cmd:"" help:"Print state broadcasts as they arrive"`
	PrintVersion VersionCmd `cmd:"" name:"version" help:"Print version information"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// loadConfig reads the configuration file and replaces the default logger with the
// one it describes.
func (c *CLI) loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, nil, err
	}
	logger := config.NewLogger(cfg.Monitoring.Logging, c.Verbose, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func (g *Global) stdout() io.Writer {
	if g == nil || g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

func (g *Global) context() (context.Context, context.CancelFunc) {
	if g != nil && g.Ctx != nil {
		return context.WithCancel(g.Ctx)
	}
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
