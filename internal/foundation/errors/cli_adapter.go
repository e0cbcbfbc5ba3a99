package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Exit codes returned by the focusguard CLI.
const (
	ExitOK          = 0
	ExitGeneral     = 1
	ExitUsage       = 2
	ExitRejected    = 5
	ExitConfig      = 7
	ExitUnavailable = 8
	ExitInternal    = 10
	ExitRuntime     = 12
)

// CLIErrorAdapter turns errors into exit codes and terminal messages.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	stderr  io.Writer
	exit    func(int)
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
		stderr:  os.Stderr,
		exit:    os.Exit,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	classified, ok := AsClassified(err)
	if !ok {
		return ExitGeneral
	}
	switch classified.Category() {
	case CategoryValidation:
		return ExitUsage
	case CategoryConfig:
		return ExitConfig
	case CategoryAuth:
		return ExitRejected
	case CategoryStore, CategoryTransport, CategoryNotFound:
		return ExitUnavailable
	case CategoryDaemon, CategoryRuntime:
		return ExitRuntime
	case CategoryInternal:
		return ExitInternal
	default:
		return ExitGeneral
	}
}

// FormatError formats an error for display on the terminal.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	classified, ok := AsClassified(err)
	if !ok {
		return fmt.Sprintf("Error: %v", err)
	}
	if a.verbose {
		return classified.Error()
	}
	if classified.Category() == CategoryInternal {
		return "Internal error occurred (use -v for details)"
	}
	msg := fmt.Sprintf("Error: %s", classified.Message())
	if classified.RetryStrategy() == RetryUserAction {
		msg += " (check the request and try again)"
	}
	return msg
}

// HandleError logs err when appropriate, prints it and exits with the mapped code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}
	if a.shouldLog(err) {
		a.logError(err)
	}
	_, _ = fmt.Fprintln(a.stderr, a.FormatError(err))
	a.exit(a.ExitCodeFor(err))
}

func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}
	if classified, ok := AsClassified(err); ok {
		return classified.Severity() == SeverityFatal
	}
	return true
}

func (a *CLIErrorAdapter) logError(err error) {
	classified, ok := AsClassified(err)
	if !ok {
		a.logger.Error("Unclassified error", "error", err)
		return
	}
	attrs := []slog.Attr{slog.String("category", string(classified.Category()))}
	if classified.CanRetry() {
		attrs = append(attrs, slog.Bool("retryable", true))
	}
	if cause := classified.Cause(); cause != nil {
		attrs = append(attrs, slog.String("cause", cause.Error()))
	}
	a.logger.LogAttrs(context.Background(), slogLevelFromSeverity(classified.Severity()), classified.Message(), attrs...)
}

func slogLevelFromSeverity(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
