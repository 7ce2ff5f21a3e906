// Package certswap overwrites an application's pinned certificate
// asset with the interception proxy's CA certificate and restores the
// original content from version control afterwards.
package certswap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/appintercept/pinsession/internal/certcodec"
	"github.com/appintercept/pinsession/internal/model"
	"github.com/appintercept/pinsession/internal/shellx"
)

// ErrInterceptionCertMissing indicates that the interception proxy's
// CA certificate does not exist yet, which means the proxy has never
// run and had no chance to generate it.
var ErrInterceptionCertMissing = errors.New("certswap: interception CA certificate missing")

// DefaultInterceptionCertPath returns the path where mitmproxy stores
// its generated CA certificate.
func DefaultInterceptionCertPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".mitmproxy", "mitmproxy-ca-cert.pem")
}

// OriginalAssetSource knows how to bring a file back to its original
// content. The production implementation is [GitSource]; tests inject
// something simpler.
type OriginalAssetSource interface {
	// Restore resets the file at path to its original content.
	Restore(path string) error
}

// GitSource restores a file using `git checkout`. The repository is
// the source of truth for the original bytes; nothing is cached.
type GitSource struct {
	// Logger is the OPTIONAL logger to use.
	Logger model.Logger
}

var _ OriginalAssetSource = &GitSource{}

// Restore implements [OriginalAssetSource].
func (g *GitSource) Restore(path string) error {
	logger := model.ValidLoggerOrDefault(g.Logger)
	err := shellx.Run(
		logger, "git",
		"-C", filepath.Dir(path),
		"checkout", "--", filepath.Base(path),
	)
	return shellx.NewToolError("git", err)
}

// converter is the subset of [certcodec.Codec] we need.
type converter interface {
	Convert(asset certcodec.Asset, target certcodec.Encoding, destPath string) (certcodec.Asset, error)
}

// Substitutor swaps a pinned certificate asset for the interception
// proxy's CA certificate.
type Substitutor struct {
	// Codec is the MANDATORY certificate converter.
	Codec converter

	// InterceptionCertPath is the OPTIONAL path of the interception
	// proxy's PEM CA certificate. The default is the path used
	// by mitmproxy.
	InterceptionCertPath string

	// Logger is the OPTIONAL logger to use.
	Logger model.Logger

	// Source is the MANDATORY source of original asset content.
	Source OriginalAssetSource
}

// interceptionCertPath returns the configured or default path.
func (s *Substitutor) interceptionCertPath() string {
	if s.InterceptionCertPath != "" {
		return s.InterceptionCertPath
	}
	return DefaultInterceptionCertPath()
}

// Substitute overwrites pinnedCertPath with a DER re-encoding of the
// interception proxy's CA certificate. The pinned asset is DER on disk,
// so we convert rather than copy. When the interception certificate
// does not exist we fail with [ErrInterceptionCertMissing] without
// touching pinnedCertPath.
func (s *Substitutor) Substitute(pinnedCertPath string) error {
	logger := model.ValidLoggerOrDefault(s.Logger)
	source := s.interceptionCertPath()
	logger.Debugf("overwriting %s with %s", pinnedCertPath, source)
	if _, err := os.Stat(source); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf(
			"%w at %s: run the interception proxy once so it can generate its certificates",
			ErrInterceptionCertMissing, source,
		)
	}
	asset := certcodec.Asset{Path: source, Encoding: certcodec.EncodingPEM}
	_, err := s.Codec.Convert(asset, certcodec.EncodingDER, pinnedCertPath)
	return err
}

// Restore resets pinnedCertPath to its original content.
func (s *Substitutor) Restore(pinnedCertPath string) error {
	return s.Source.Restore(pinnedCertPath)
}
