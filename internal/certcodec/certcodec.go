// Package certcodec re-encodes certificate assets between DER and
// PEM by driving the openssl command line tool.
package certcodec

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/appintercept/pinsession/internal/model"
	"github.com/appintercept/pinsession/internal/shellx"
)

// Encoding is the on-disk encoding of a certificate asset.
type Encoding string

const (
	// EncodingDER is the binary DER encoding.
	EncodingDER = Encoding("DER")

	// EncodingPEM is the base64 PEM encoding.
	EncodingPEM = Encoding("PEM")
)

// Asset is a certificate stored on the filesystem.
type Asset struct {
	// Path is the filesystem path of the certificate.
	Path string

	// Encoding is the encoding of the bytes at Path.
	Encoding Encoding
}

// ErrMalformedCertificate indicates that openssl could not parse
// the input as a certificate in its declared encoding.
var ErrMalformedCertificate = errors.New("certcodec: malformed certificate")

// opensslTool is the name of the conversion tool we invoke.
const opensslTool = "openssl"

// Codec converts certificate assets by invoking openssl.
type Codec struct {
	// Logger is the OPTIONAL logger to use.
	Logger model.Logger
}

// Convert re-encodes the given asset into target encoding, writing the
// result at destPath. The source asset is not modified. The destination
// is only written after openssl succeeded, so a failed conversion never
// leaves a truncated or half-written file behind.
func (c *Codec) Convert(asset Asset, target Encoding, destPath string) (Asset, error) {
	logger := model.ValidLoggerOrDefault(c.Logger)
	argv, err := shellx.NewArgv(
		opensslTool, "x509",
		"-inform", opensslInform(asset.Encoding),
		"-outform", opensslInform(target),
		"-in", asset.Path,
	)
	if err != nil {
		return Asset{}, shellx.NewToolError(opensslTool, err)
	}
	config := &shellx.Config{Logger: logger}
	data, err := shellx.OutputEx(config, argv)
	if err != nil {
		return Asset{}, classifyOpensslError(err)
	}
	if err := os.WriteFile(destPath, data, 0600); err != nil {
		return Asset{}, fmt.Errorf("certcodec: writing %s: %w", destPath, err)
	}
	return Asset{Path: destPath, Encoding: target}, nil
}

// opensslInform maps an [Encoding] to the value openssl expects
// for its -inform and -outform options.
func opensslInform(enc Encoding) string {
	return string(enc)
}

// classifyOpensslError distinguishes an unparsable certificate from
// any other openssl failure. openssl exits nonzero in both cases, so
// we inspect the captured stderr.
func classifyOpensslError(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		stderr := strings.ToLower(string(exitErr.Stderr))
		if strings.Contains(stderr, "unable to load certificate") ||
			strings.Contains(stderr, "could not read certificate") {
			return fmt.Errorf("%w: %s", ErrMalformedCertificate, err.Error())
		}
	}
	return shellx.NewToolError(opensslTool, err)
}
