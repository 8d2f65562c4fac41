package cmd

import (
	"errors"
	"fmt"
	"os"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
)

// configError marks failures to load or validate configuration.
type configError struct {
	err error
}

func (e *configError) Error() string { return "load config: " + e.err.Error() }

func (e *configError) Unwrap() error { return e.err }

// ExitCodeFor maps a command error to its semantic foundry exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	var cfgErr *configError
	switch {
	case err == nil:
		return foundry.ExitCode(0)
	case errors.As(err, &cfgErr):
		return foundry.ExitConfigInvalid
	case errors.Is(err, errDashboardFailed):
		return foundry.ExitExternalServiceUnavailable
	case errors.Is(err, os.ErrNotExist):
		return foundry.ExitFileNotFound
	default:
		return foundry.ExitFailure
	}
}

// ExitWithCodeStderr writes msg and err to stderr with the exit code
// metadata and exits. Error envelopes are printed with their code and
// correlation IDs.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	printFailure(msg, err)

	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d\n", exitCode)
		os.Exit(int(exitCode))
	}
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)

	os.Exit(info.Code)
}

func printFailure(msg string, err error) {
	if err == nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
		return
	}

	var envelope *gferrors.ErrorEnvelope
	if !errors.As(err, &envelope) {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
		return
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %v (correlation: %s, trace: %s)\n",
		msg, envelope.Code, envelope.Message, envelope.CorrelationID, envelope.TraceID)
	if envelope.Original != nil {
		if originalErr, ok := envelope.Original.(error); ok {
			fmt.Fprintf(os.Stderr, "Underlying error: %v\n", originalErr)
		}
	}
}
