package certswap

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/appintercept/pinsession/internal/certcodec"
	"github.com/appintercept/pinsession/internal/shellx"
	"github.com/appintercept/pinsession/internal/shellx/shellxtesting"
	"github.com/google/go-cmp/cmp"
)

// fakeConverter records the conversion it was asked to perform.
type fakeConverter struct {
	calls     int
	err       error
	seenAsset certcodec.Asset
	seenDest  string
	seenTo    certcodec.Encoding
}

func (fc *fakeConverter) Convert(
	asset certcodec.Asset, target certcodec.Encoding, destPath string) (certcodec.Asset, error) {
	fc.calls++
	fc.seenAsset = asset
	fc.seenTo = target
	fc.seenDest = destPath
	if fc.err != nil {
		return certcodec.Asset{}, fc.err
	}
	return certcodec.Asset{Path: destPath, Encoding: target}, nil
}

func TestSubstitute(t *testing.T) {
	t.Run("converts the interception cert to DER over the pinned path", func(t *testing.T) {
		interceptionCert := filepath.Join(t.TempDir(), "mitmproxy-ca-cert.pem")
		if err := os.WriteFile(interceptionCert, []byte("fake pem"), 0600); err != nil {
			t.Fatal(err)
		}
		converter := &fakeConverter{}
		substitutor := &Substitutor{
			Codec:                converter,
			InterceptionCertPath: interceptionCert,
			Source:               &GitSource{},
		}
		if err := substitutor.Substitute("/repo/cert.der"); err != nil {
			t.Fatal(err)
		}
		if converter.calls != 1 {
			t.Fatal("expected a single conversion, got", converter.calls)
		}
		expectAsset := certcodec.Asset{
			Path:     interceptionCert,
			Encoding: certcodec.EncodingPEM,
		}
		if diff := cmp.Diff(expectAsset, converter.seenAsset); diff != "" {
			t.Fatal(diff)
		}
		if converter.seenTo != certcodec.EncodingDER {
			t.Fatal("unexpected target encoding", converter.seenTo)
		}
		if converter.seenDest != "/repo/cert.der" {
			t.Fatal("unexpected destination", converter.seenDest)
		}
	})

	t.Run("fails when the interception cert is missing", func(t *testing.T) {
		converter := &fakeConverter{}
		substitutor := &Substitutor{
			Codec:                converter,
			InterceptionCertPath: filepath.Join(t.TempDir(), "nonexistent.pem"),
			Source:               &GitSource{},
		}
		err := substitutor.Substitute("/repo/cert.der")
		if !errors.Is(err, ErrInterceptionCertMissing) {
			t.Fatal("unexpected error", err)
		}
		if converter.calls != 0 {
			t.Fatal("the converter should not have run")
		}
	})

	t.Run("propagates conversion failures", func(t *testing.T) {
		interceptionCert := filepath.Join(t.TempDir(), "mitmproxy-ca-cert.pem")
		if err := os.WriteFile(interceptionCert, []byte("fake pem"), 0600); err != nil {
			t.Fatal(err)
		}
		expected := errors.New("mocked error")
		substitutor := &Substitutor{
			Codec:                &fakeConverter{err: expected},
			InterceptionCertPath: interceptionCert,
			Source:               &GitSource{},
		}
		if err := substitutor.Substitute("/repo/cert.der"); !errors.Is(err, expected) {
			t.Fatal("unexpected error", err)
		}
	})
}

func TestGitSource(t *testing.T) {
	t.Run("checks out the file relative to its directory", func(t *testing.T) {
		var seenArgs []string
		library := &shellxtesting.Library{
			MockLookPath: func(file string) (string, error) {
				return "/usr/bin/" + file, nil
			},
			MockCmdRun: func(c *exec.Cmd) error {
				seenArgs = shellxtesting.MustArgv(c)
				return nil
			},
		}
		source := &GitSource{}
		var err error
		shellxtesting.WithCustomLibrary(library, func() {
			err = source.Restore("/repo/Certificates/cert.der")
		})
		if err != nil {
			t.Fatal(err)
		}
		expect := []string{
			"/usr/bin/git",
			"-C", "/repo/Certificates",
			"checkout", "--", "cert.der",
		}
		if diff := cmp.Diff(expect, seenArgs); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("wraps checkout failures into a ToolError", func(t *testing.T) {
		expected := errors.New("mocked error")
		library := &shellxtesting.Library{
			MockLookPath: func(file string) (string, error) {
				return "/usr/bin/" + file, nil
			},
			MockCmdRun: func(c *exec.Cmd) error {
				return expected
			},
		}
		source := &GitSource{}
		var err error
		shellxtesting.WithCustomLibrary(library, func() {
			err = source.Restore("/repo/cert.der")
		})
		var toolErr *shellx.ToolError
		if !errors.As(err, &toolErr) || toolErr.Tool != "git" {
			t.Fatal("expected a ToolError naming git, got", err)
		}
		if !errors.Is(err, expected) {
			t.Fatal("cannot unwrap the inner error")
		}
	})
}

func TestRestore(t *testing.T) {
	t.Run("delegates to the original asset source", func(t *testing.T) {
		var restored []string
		substitutor := &Substitutor{
			Codec: &fakeConverter{},
			Source: &funcSource{func(path string) error {
				restored = append(restored, path)
				return nil
			}},
		}
		if err := substitutor.Restore("/repo/cert.der"); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"/repo/cert.der"}, restored); diff != "" {
			t.Fatal(diff)
		}
	})
}

// funcSource adapts a func to OriginalAssetSource.
type funcSource struct {
	restore func(path string) error
}

func (fs *funcSource) Restore(path string) error {
	return fs.restore(path)
}
