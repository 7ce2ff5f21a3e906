// Package proxyrunner starts the interception proxy and waits for the
// user to terminate it.
package proxyrunner

import (
	"errors"
	"os"
	"os/exec"
	"os/signal"

	"github.com/appintercept/pinsession/internal/model"
	"github.com/appintercept/pinsession/internal/shellx"
)

// Mode selects the interception proxy variant to run.
type Mode int

const (
	// ModeHeadless runs the terminal UI variant.
	ModeHeadless = Mode(iota)

	// ModeWebUI runs the web UI variant.
	ModeWebUI
)

// Tool returns the name of the executable implementing the mode.
func (m Mode) Tool() string {
	if m == ModeWebUI {
		return "mitmweb"
	}
	return "mitmproxy"
}

// Runner runs the interception proxy.
type Runner struct {
	// Logger is the OPTIONAL logger to use.
	Logger model.Logger
}

// Run starts the proxy and blocks until it terminates.
//
// Each entry in scriptPaths is registered as an addon script. The
// paths are passed through verbatim: a missing script surfaces as the
// proxy's own startup error. The upstreamTrustCertPath is the PEM
// certificate the proxy must trust when connecting to upstream servers
// whose chain is signed by the application's pinned CA.
//
// A proxy that started and then exited, with whatever status, is a
// normal session end. Only failing to start the process at all is an
// error, reported as a [*shellx.ToolError].
func (r *Runner) Run(mode Mode, scriptPaths []string, upstreamTrustCertPath string) error {
	logger := model.ValidLoggerOrDefault(r.Logger)
	tool := mode.Tool()
	argv, err := shellx.NewArgv(tool)
	if err != nil {
		return shellx.NewToolError(tool, err)
	}
	for _, scriptPath := range scriptPaths {
		argv.Append("--scripts", scriptPath)
	}
	argv.Append("--set", "ssl_verify_upstream_trusted_ca="+upstreamTrustCertPath)

	// The interrupt is meant for the proxy; we still need to run
	// the session teardown after it exits.
	signal.Ignore(os.Interrupt)
	defer signal.Reset(os.Interrupt)

	config := &shellx.Config{
		Logger: logger,
		Flags:  shellx.FlagShowStdoutStderr | shellx.FlagForwardStdin,
	}
	err = shellx.RunEx(config, argv)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// The process ran: the user quit it or it shut itself down.
		logger.Infof("%s exited: %s", tool, exitErr.Error())
		return nil
	}
	return shellx.NewToolError(tool, err)
}
