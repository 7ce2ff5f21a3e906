package netproxy

import (
	"errors"
	"os/exec"
	"testing"

	"github.com/appintercept/pinsession/internal/shellx"
	"github.com/appintercept/pinsession/internal/shellx/shellxtesting"
	"github.com/google/go-cmp/cmp"
)

// run invokes fn with a mocked shellx library recording argv.
func run(runErr error, fn func()) []string {
	var seenArgs []string
	library := &shellxtesting.Library{
		MockLookPath: func(file string) (string, error) {
			return "/usr/bin/" + file, nil
		},
		MockCmdRun: func(c *exec.Cmd) error {
			seenArgs = shellxtesting.MustArgv(c)
			return runErr
		},
	}
	shellxtesting.WithCustomLibrary(library, fn)
	return seenArgs
}

func TestEnable(t *testing.T) {
	t.Run("invokes the default helper", func(t *testing.T) {
		configurator := &Configurator{}
		var err error
		seenArgs := run(nil, func() {
			err = configurator.Enable("127.0.0.1", 8080)
		})
		if err != nil {
			t.Fatal(err)
		}
		expect := []string{"/usr/bin/manage_proxy", "set", "127.0.0.1", "8080"}
		if diff := cmp.Diff(expect, seenArgs); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("honours a multi-word helper override", func(t *testing.T) {
		configurator := &Configurator{Helper: "sudo manage_proxy"}
		var err error
		seenArgs := run(nil, func() {
			err = configurator.Enable("10.0.0.1", 9090)
		})
		if err != nil {
			t.Fatal(err)
		}
		expect := []string{"/usr/bin/sudo", "manage_proxy", "set", "10.0.0.1", "9090"}
		if diff := cmp.Diff(expect, seenArgs); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("wraps a nonzero exit into a ToolError", func(t *testing.T) {
		expected := errors.New("mocked error")
		configurator := &Configurator{}
		var err error
		run(expected, func() {
			err = configurator.Enable("127.0.0.1", 8080)
		})
		var toolErr *shellx.ToolError
		if !errors.As(err, &toolErr) || toolErr.Tool != DefaultHelper {
			t.Fatal("expected a ToolError naming the helper, got", err)
		}
		if !errors.Is(err, expected) {
			t.Fatal("cannot unwrap the inner error")
		}
	})

	t.Run("when the helper is not installed", func(t *testing.T) {
		library := &shellxtesting.Library{
			MockLookPath: func(file string) (string, error) {
				return "", exec.ErrNotFound
			},
		}
		configurator := &Configurator{}
		var err error
		shellxtesting.WithCustomLibrary(library, func() {
			err = configurator.Enable("127.0.0.1", 8080)
		})
		if !errors.Is(err, exec.ErrNotFound) {
			t.Fatal("unexpected error", err)
		}
	})
}

func TestDisable(t *testing.T) {
	t.Run("invokes the helper with disable", func(t *testing.T) {
		configurator := &Configurator{}
		var err error
		seenArgs := run(nil, func() {
			err = configurator.Disable()
		})
		if err != nil {
			t.Fatal(err)
		}
		expect := []string{"/usr/bin/manage_proxy", "disable"}
		if diff := cmp.Diff(expect, seenArgs); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("is callable without a prior enable", func(t *testing.T) {
		configurator := &Configurator{}
		var err error
		run(nil, func() {
			err = configurator.Disable()
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}
