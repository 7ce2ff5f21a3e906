// Package shellx runs external tools on behalf of the session.
package shellx

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/appintercept/pinsession/internal/model"
	"github.com/google/shlex"
	"golang.org/x/sys/execabs"
)

// Dependencies is the library on which this package depends.
type Dependencies interface {
	// CmdOutput is equivalent to calling c.Output.
	CmdOutput(c *execabs.Cmd) ([]byte, error)

	// CmdRun is equivalent to calling c.Run.
	CmdRun(c *execabs.Cmd) error

	// LookPath is equivalent to calling execabs.LookPath.
	LookPath(file string) (string, error)
}

// Library contains the default dependencies.
var Library Dependencies = &StdlibDependencies{}

// StdlibDependencies contains the stdlib implementation of the [Dependencies].
type StdlibDependencies struct{}

// CmdOutput implements [Dependencies].
func (*StdlibDependencies) CmdOutput(c *execabs.Cmd) ([]byte, error) {
	return c.Output()
}

// CmdRun implements [Dependencies].
func (*StdlibDependencies) CmdRun(c *execabs.Cmd) error {
	return c.Run()
}

// LookPath implements [Dependencies].
func (*StdlibDependencies) LookPath(file string) (string, error) {
	return execabs.LookPath(file)
}

// Argv contains the complete argv.
type Argv struct {
	// P is the MANDATORY program to execute.
	P string

	// V contains the OPTIONAL arguments.
	V []string
}

// NewArgv creates a new [Argv] from the given command and arguments.
func NewArgv(command string, args ...string) (*Argv, error) {
	fullpath, err := Library.LookPath(command) // allows mocking
	if err != nil {
		return nil, err
	}
	argv := &Argv{
		P: fullpath,
		V: args,
	}
	return argv, nil
}

// ParseCommandLine creates an instance of [Argv] from the given command line.
func ParseCommandLine(cmdline string) (*Argv, error) {
	args, err := shlex.Split(cmdline)
	if err != nil {
		return nil, err
	}
	if len(args) < 1 {
		return nil, ErrNoCommandToExecute
	}
	return NewArgv(args[0], args[1:]...)
}

// Append appends arguments to the command line.
func (a *Argv) Append(args ...string) {
	a.V = append(a.V, args...)
}

const (
	// FlagShowStdoutStderr enables connecting the child's stdout and stderr
	// to the current program's stdout and stderr.
	FlagShowStdoutStderr = 1 << iota

	// FlagForwardStdin additionally connects the current program's stdin
	// to the child's stdin, which interactive children need.
	FlagForwardStdin
)

// Config contains config for executing programs.
type Config struct {
	// Logger is the OPTIONAL logger to use.
	Logger model.Logger

	// Flags contains OPTIONAL binary flags to configure the program.
	Flags int64
}

// cmd creates a new [execabs.Cmd] instance.
func cmd(config *Config, argv *Argv) *execabs.Cmd {
	cmd := execabs.Command(argv.P, argv.V...)
	if config.Logger != nil {
		cmdline := quotedCommandLine(argv.P, argv.V...)
		config.Logger.Infof("+ %s", cmdline)
	}
	return cmd
}

// OutputEx implements [Output] and [OutputQuiet].
func OutputEx(config *Config, argv *Argv) ([]byte, error) {
	cmd := cmd(config, argv)
	if (config.Flags & FlagShowStdoutStderr) != 0 {
		// note: cmd.Output wants the stdout to be nil
		cmd.Stderr = os.Stderr
	}
	return Library.CmdOutput(cmd) // allows mocking
}

// output is the common implementation of [Output] and [OutputQuiet].
func output(logger model.Logger, flags int64, command string, args ...string) ([]byte, error) {
	argv, err := NewArgv(command, args...)
	if err != nil {
		return nil, err
	}
	config := &Config{
		Logger: logger,
		Flags:  flags,
	}
	return OutputEx(config, argv)
}

// OutputQuiet is like [Run] except that it does not log anything and, in
// case of success, it captures the standard output and returns it.
func OutputQuiet(command string, args ...string) ([]byte, error) {
	return output(nil, 0, command, args...)
}

// Output is like [OutputQuiet] except that it logs the command to
// be executed. The child's stderr is not captured, so that a failing
// tool's diagnostics still reach the operator.
func Output(logger model.Logger, command string, args ...string) ([]byte, error) {
	return output(logger, FlagShowStdoutStderr, command, args...)
}

// RunEx implements [Run] and [RunQuiet].
func RunEx(config *Config, argv *Argv) error {
	cmd := cmd(config, argv)
	if config.Flags&FlagShowStdoutStderr != 0 {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if config.Flags&FlagForwardStdin != 0 {
		cmd.Stdin = os.Stdin
	}
	return Library.CmdRun(cmd) // allows mocking
}

// run is the common implementation of [Run] and [RunQuiet].
func run(logger model.Logger, flags int64, command string, args ...string) error {
	argv, err := NewArgv(command, args...)
	if err != nil {
		return err
	}
	config := &Config{
		Logger: logger,
		Flags:  flags,
	}
	return RunEx(config, argv)
}

// RunQuiet runs the given command without emitting any output.
func RunQuiet(command string, args ...string) error {
	return run(nil, 0, command, args...)
}

// Run is like [RunQuiet] except that it also logs the command to
// exec and the text logged to stdout and stderr.
func Run(logger model.Logger, command string, args ...string) error {
	return run(logger, FlagShowStdoutStderr, command, args...)
}

// ErrNoCommandToExecute means that the command line is empty.
var ErrNoCommandToExecute = errors.New("shellx: no command to execute")

// ToolError wraps the failure of a specific external tool so that the
// caller can report which tool failed without parsing error strings.
type ToolError struct {
	// Tool is the name of the tool that failed.
	Tool string

	// Err is the underlying error.
	Err error
}

var _ error = &ToolError{}

// Error implements error.
func (te *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s", te.Tool, te.Err.Error())
}

// Unwrap returns the underlying error.
func (te *ToolError) Unwrap() error {
	return te.Err
}

// NewToolError constructs a [ToolError] unless err is nil, in which
// case it returns nil.
func NewToolError(tool string, err error) error {
	if err == nil {
		return nil
	}
	return &ToolError{Tool: tool, Err: err}
}

// quotedCommandLine returns a quoted command line.
func quotedCommandLine(command string, args ...string) string {
	v := []string{}
	v = append(v, maybeQuoteArg(command))
	for _, a := range args {
		v = append(v, maybeQuoteArg(a))
	}
	return strings.Join(v, " ")
}

// maybeQuoteArg quotes a command line argument if needed.
func maybeQuoteArg(a string) string {
	if strings.Contains(a, "\"") {
		a = strings.ReplaceAll(a, "\"", "\\\"")
	}
	if strings.Contains(a, " ") {
		a = "\"" + a + "\""
	}
	return a
}
