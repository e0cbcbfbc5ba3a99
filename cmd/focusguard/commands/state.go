package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/messaging"
	"git.home.luguber.info/inful/focusguard/internal/schema"
)

// GetCmd implements the 'get' command.
type GetCmd struct {
	Key       []string `short:"k" name:"key" help:"Key to read; repeat for several. All visible keys when omitted."`
	Untrusted bool     `help:"Read as an untrusted content surface"`
}

func (c *GetCmd) Run(g *Global, root *CLI) error {
	cfg, logger, err := root.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := g.context()
	defer cancel()

	m, release, err := openMirror(ctx, g, cfg, trustFor(c.Untrusted), logger)
	if err != nil {
		return err
	}
	defer release()

	state, err := m.Get(ctx, c.Key...)
	if err != nil {
		return err
	}
	return printJSON(g.stdout(), state)
}

// SetCmd implements the 'set' command.
type SetCmd struct {
	Assignments []string `arg:"" name:"assignment" help:"KEY=VALUE; VALUE is parsed as JSON, otherwise taken as a string"`
}

func (c *SetCmd) Run(g *Global, root *CLI) error {
	payload, err := ParseAssignments(c.Assignments)
	if err != nil {
		return err
	}
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

	if err := m.Update(ctx, payload); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.stdout(), "updated %s\n", strings.Join(payload.Keys(), ", "))
	return nil
}

// ParseAssignments turns KEY=VALUE arguments into an update payload. Values that are
// valid JSON are decoded, anything else is kept as a string.
func ParseAssignments(args []string) (schema.Record, error) {
	payload := make(schema.Record, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.ValidationError(fmt.Sprintf("expected KEY=VALUE, got %q", arg)).
				UserAction().
				Build()
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		payload[key] = value
	}
	return payload, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.InternalError("encode output").WithCause(err).Build()
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
