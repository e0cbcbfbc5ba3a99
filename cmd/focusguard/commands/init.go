package commands

import (
	"fmt"

	"git.home.luguber.info/inful/focusguard/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite existing configuration file"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	out := g.stdout()
	_, _ = fmt.Fprintf(out, "Writing configuration to %s\n", root.Config)
	if err := config.Init(root.Config, i.Force); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "initialized successfully")
	return nil
}
