// Package netproxy toggles the system-wide network proxy settings by
// invoking an external helper command.
package netproxy

import (
	"strconv"

	"github.com/appintercept/pinsession/internal/model"
	"github.com/appintercept/pinsession/internal/shellx"
)

// DefaultHelper is the helper command we invoke when the
// [Configurator] does not override it.
const DefaultHelper = "manage_proxy"

// Configurator enables and disables the system-wide network proxy.
//
// The helper accepts `set <host> <port>` to point the system proxy at
// the given address and `disable` to turn it off again. Disable is safe
// to invoke regardless of whether a matching set ever happened.
type Configurator struct {
	// Helper is the OPTIONAL helper command line. It is parsed with
	// shell-like quoting rules, so wrappers such as "sudo manage_proxy"
	// work. The default is [DefaultHelper].
	Helper string

	// Logger is the OPTIONAL logger to use.
	Logger model.Logger
}

// Enable points the system network proxy at host:port.
func (c *Configurator) Enable(host string, port int) error {
	return c.invoke("set", host, strconv.Itoa(port))
}

// Disable turns the system network proxy off.
func (c *Configurator) Disable() error {
	return c.invoke("disable")
}

// invoke runs the helper with the given arguments.
func (c *Configurator) invoke(args ...string) error {
	helper := c.Helper
	if helper == "" {
		helper = DefaultHelper
	}
	argv, err := shellx.ParseCommandLine(helper)
	if err != nil {
		return shellx.NewToolError(helper, err)
	}
	argv.Append(args...)
	config := &shellx.Config{
		Logger: model.ValidLoggerOrDefault(c.Logger),
		Flags:  shellx.FlagShowStdoutStderr,
	}
	return shellx.NewToolError(helper, shellx.RunEx(config, argv))
}
