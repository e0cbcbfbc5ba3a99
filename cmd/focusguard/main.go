package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/focusguard/cmd/focusguard/commands"
	ferrors "git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Must(cli,
		kong.Name("focusguard"),
		kong.Description("Focus mode state daemon and command line surface."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if err := kctx.Run(&commands.Global{Stdout: os.Stdout}, cli); err != nil {
		ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
	}
}
