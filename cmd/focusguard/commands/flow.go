package commands

import (
	"git.home.luguber.info/inful/focusguard/internal/messaging"
	"git.home.luguber.info/inful/focusguard/internal/schema"
)

// FlowCmd groups the flow session commands.
type FlowCmd struct {
	Start FlowStartCmd `cmd:"" help:"Start a flow session"`
	End   FlowEndCmd   `cmd:"" help:"End the current flow session"`
}

// FlowStartCmd implements 'flow start'.
type FlowStartCmd struct {
	Task    string `short:"t" required:"" help:"What you are focusing on"`
	Minutes int    `short:"m" default:"0" help:"Session length in minutes; 0 for an untimed session"`
}

func (c *FlowStartCmd) Run(g *Global, root *CLI) error {
	payload := schema.Record{"task": c.Task}
	if c.Minutes > 0 {
		payload["minutes"] = c.Minutes
	}
	return requestFlow(g, root, messaging.Message{Action: messaging.ActionStartFlow, Payload: payload})
}

// FlowEndCmd implements 'flow end'.
type FlowEndCmd struct{}

func (c *FlowEndCmd) Run(g *Global, root *CLI) error {
	return requestFlow(g, root, messaging.Message{Action: messaging.ActionEndFlow})
}

// requestFlow sends a flow action. Timer fields are computed by the daemon, so there
// is no store fallback.
func requestFlow(g *Global, root *CLI, msg messaging.Message) error {
	cfg, logger, err := root.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := g.context()
	defer cancel()

	m, release, err := openMirror(ctx, g, cfg, messaging.Trusted, logger)
	if err != nil {
		return err
	}
	defer release()

	resp, err := m.Request(ctx, msg)
	if err != nil {
		return err
	}
	return printJSON(g.stdout(), resp.State)
}
