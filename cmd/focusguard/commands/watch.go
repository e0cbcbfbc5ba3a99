package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"git.home.luguber.info/inful/focusguard/internal/messaging"
	"git.home.luguber.info/inful/focusguard/internal/mirror"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Untrusted bool `help:"Watch as an untrusted content surface"`
}

func (c *WatchCmd) Run(g *Global, root *CLI) error {
	cfg, logger, err := root.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := g.context()
	defer cancel()

	printer := &linePrinter{w: g.stdout()}
	m, release, err := openMirror(ctx, g, cfg, trustFor(c.Untrusted), logger,
		mirror.WithListener(printer.print))
	if err != nil {
		return err
	}
	defer release()

	if err := m.Run(ctx); err != nil {
		return err
	}
	return nil
}

// linePrinter writes one JSON envelope per line.
type linePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *linePrinter) print(msg messaging.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, string(data))
}
