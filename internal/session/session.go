// Package session sequences a whole interception session: convert the
// pinned certificate, substitute it, enable the system proxy, run the
// interception proxy, and then undo every change we made.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/appintercept/pinsession/internal/addons"
	"github.com/appintercept/pinsession/internal/certcodec"
	"github.com/appintercept/pinsession/internal/certswap"
	"github.com/appintercept/pinsession/internal/fsx"
	"github.com/appintercept/pinsession/internal/model"
	"github.com/appintercept/pinsession/internal/netproxy"
	"github.com/appintercept/pinsession/internal/proxyrunner"
	"github.com/appintercept/pinsession/internal/shellx"
)

// DefaultPinnedCertRelPath is where, relative to the application root,
// we expect the pinned CA certificate the app is hardcoded to trust.
const DefaultPinnedCertRelPath = "SignalServiceKit/Resources/Certificates/signal-messenger.cer"

const (
	// DefaultListenHost is the address at which the interception
	// proxy listens.
	DefaultListenHost = "127.0.0.1"

	// DefaultListenPort is the port at which the interception
	// proxy listens.
	DefaultListenPort = 8080
)

// Config contains the session configuration. Build it once from user
// input before starting the session and treat it as read only.
type Config struct {
	// AppRoot is the MANDATORY path to the root of the monitored
	// application's repository.
	AppRoot string

	// DonationRedirect OPTIONALLY registers the bundled donation
	// redirect addon script.
	DonationRedirect bool

	// InterceptionCertPath is the OPTIONAL path of the interception
	// proxy's generated PEM CA certificate.
	InterceptionCertPath string

	// ListenHost is the OPTIONAL proxy listening address.
	ListenHost string

	// ListenPort is the OPTIONAL proxy listening port.
	ListenPort int

	// PinnedCertRelPath is the OPTIONAL path of the pinned
	// certificate relative to AppRoot.
	PinnedCertRelPath string

	// ProxyHelper is the OPTIONAL command line of the helper that
	// toggles the system network proxy.
	ProxyHelper string

	// ScriptPaths contains the OPTIONAL addon scripts to register.
	ScriptPaths []string

	// SkipNetworkProxy OPTIONALLY disables configuring the system
	// network proxy, which you want when proxying a physical device
	// rather than a simulator.
	SkipNetworkProxy bool

	// WebUI OPTIONALLY selects the web UI proxy variant.
	WebUI bool
}

// pinnedCertPath returns the absolute path of the pinned certificate.
func (c *Config) pinnedCertPath() string {
	rel := c.PinnedCertRelPath
	if rel == "" {
		rel = DefaultPinnedCertRelPath
	}
	return filepath.Join(c.AppRoot, rel)
}

// listenHost returns the configured or default listening host.
func (c *Config) listenHost() string {
	if c.ListenHost != "" {
		return c.ListenHost
	}
	return DefaultListenHost
}

// listenPort returns the configured or default listening port.
func (c *Config) listenPort() int {
	if c.ListenPort != 0 {
		return c.ListenPort
	}
	return DefaultListenPort
}

// mode returns the proxy variant to run.
func (c *Config) mode() proxyrunner.Mode {
	if c.WebUI {
		return proxyrunner.ModeWebUI
	}
	return proxyrunner.ModeHeadless
}

// certConverter is the view of [certcodec.Codec] we depend on.
type certConverter interface {
	Convert(asset certcodec.Asset, target certcodec.Encoding, destPath string) (certcodec.Asset, error)
}

// certSubstitutor is the view of [certswap.Substitutor] we depend on.
type certSubstitutor interface {
	Substitute(pinnedCertPath string) error
	Restore(pinnedCertPath string) error
}

// netProxyConfigurator is the view of [netproxy.Configurator] we depend on.
type netProxyConfigurator interface {
	Enable(host string, port int) error
	Disable() error
}

// proxyRunner is the view of [proxyrunner.Runner] we depend on.
type proxyRunner interface {
	Run(mode proxyrunner.Mode, scriptPaths []string, upstreamTrustCertPath string) error
}

// Session orchestrates a single interception session. Use [New] to
// construct. A Session runs once; the pinned certificate path and the
// system network proxy are shared, process-external resources, so it
// is up to the caller not to run two sessions concurrently against
// the same application root or host.
type Session struct {
	codec     certConverter
	config    *Config
	logger    model.Logger
	lookPath  func(file string) (string, error)
	mkdirTemp func(dir, pattern string) (string, error)
	netProxy  netProxyConfigurator
	runner    proxyRunner
	swapper   certSubstitutor
}

// New creates a new [Session] with the given config and logger.
func New(config *Config, logger model.Logger) *Session {
	logger = model.ValidLoggerOrDefault(logger)
	codec := &certcodec.Codec{Logger: logger}
	return &Session{
		codec:     codec,
		config:    config,
		logger:    logger,
		lookPath:  func(file string) (string, error) { return shellx.Library.LookPath(file) },
		mkdirTemp: os.MkdirTemp,
		netProxy: &netproxy.Configurator{
			Helper: config.ProxyHelper,
			Logger: logger,
		},
		runner: &proxyrunner.Runner{Logger: logger},
		swapper: &certswap.Substitutor{
			Codec:                codec,
			InterceptionCertPath: config.InterceptionCertPath,
			Logger:               logger,
			Source:               &certswap.GitSource{Logger: logger},
		},
	}
}

// sessionState records which external state the session has actually
// changed, so that teardown is driven by facts rather than by assumed
// symmetry with setup.
type sessionState struct {
	// substituteAttempted means we started overwriting the pinned
	// certificate. A failed substitution may have partially written
	// the file, so restore is due even then.
	substituteAttempted bool

	// proxyEnabled means enabling the system proxy succeeded.
	proxyEnabled bool
}

// Run runs the whole session and returns nil only if the run phase
// completed and every teardown step succeeded or was not applicable.
func (s *Session) Run() error {
	pinnedCertPath := s.config.pinnedCertPath()
	if err := s.checkPinnedCert(pinnedCertPath); err != nil {
		return fmt.Errorf("checking pinned certificate: %w", err)
	}
	if err := s.checkDependencies(); err != nil {
		return fmt.Errorf("checking dependencies: %w", err)
	}

	tmpDir, err := s.mkdirTemp("", "pinsession-*")
	if err != nil {
		return fmt.Errorf("creating session temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	scriptPaths, err := s.collectScripts(tmpDir)
	if err != nil {
		return fmt.Errorf("writing bundled addon: %w", err)
	}

	// Convert before substituting, otherwise we would convert the
	// interception certificate rather than the pinned one. A failure
	// here has changed no external state, so there is no teardown.
	pinnedAsset := certcodec.Asset{Path: pinnedCertPath, Encoding: certcodec.EncodingDER}
	pemAsset, err := s.codec.Convert(
		pinnedAsset, certcodec.EncodingPEM, filepath.Join(tmpDir, "upstream-trust.pem"))
	if err != nil {
		return fmt.Errorf("converting pinned certificate: %w", err)
	}

	state := &sessionState{}
	primaryErr := s.setupAndRun(state, pinnedCertPath, pemAsset.Path, scriptPaths)
	teardownErr := s.teardown(state, pinnedCertPath)
	return errors.Join(primaryErr, teardownErr)
}

// checkPinnedCert ensures the application root contains a readable
// pinned certificate before we change anything.
func (s *Session) checkPinnedCert(pinnedCertPath string) error {
	file, err := fsx.OpenFile(pinnedCertPath)
	if err != nil {
		return err
	}
	return file.Close()
}

// checkDependencies verifies the external tools we are about to drive
// are on the PATH, so we fail before mutating any state.
func (s *Session) checkDependencies() error {
	for _, tool := range []string{"openssl", s.config.mode().Tool()} {
		if _, err := s.lookPath(tool); err != nil {
			return shellx.NewToolError(tool, err)
		}
	}
	return nil
}

// collectScripts returns the addon scripts to register, materializing
// the bundled donation redirect addon when requested.
func (s *Session) collectScripts(tmpDir string) ([]string, error) {
	scriptPaths := append([]string{}, s.config.ScriptPaths...)
	if s.config.DonationRedirect {
		path, err := addons.WriteDonationRedirect(tmpDir)
		if err != nil {
			return nil, err
		}
		scriptPaths = append(scriptPaths, path)
	}
	return scriptPaths, nil
}

// setupAndRun performs substitution, proxy enabling, and the blocking
// proxy run, recording into state what it actually changed. Whatever
// it returns, the caller still runs teardown against the state.
func (s *Session) setupAndRun(
	state *sessionState, pinnedCertPath, upstreamTrustCertPath string,
	scriptPaths []string) error {
	state.substituteAttempted = true
	if err := s.swapper.Substitute(pinnedCertPath); err != nil {
		return fmt.Errorf("substituting pinned certificate: %w", err)
	}

	if !s.config.SkipNetworkProxy {
		host, port := s.config.listenHost(), s.config.listenPort()
		if err := s.netProxy.Enable(host, port); err != nil {
			return fmt.Errorf("enabling network proxy: %w", err)
		}
		state.proxyEnabled = true
	}

	if err := s.runner.Run(s.config.mode(), scriptPaths, upstreamTrustCertPath); err != nil {
		return fmt.Errorf("starting interception proxy: %w", err)
	}
	return nil
}

// teardown undoes whatever setupAndRun changed. Each undo step runs at
// most once, both steps are attempted even when one fails, and every
// failure is collected rather than discarded.
func (s *Session) teardown(state *sessionState, pinnedCertPath string) error {
	var errs []error
	if state.proxyEnabled {
		if err := s.netProxy.Disable(); err != nil {
			s.logger.Warnf("cannot disable the system network proxy: %s", err.Error())
			s.logger.Warn("the system network proxy may still be enabled: disable it manually")
			errs = append(errs, fmt.Errorf("disabling network proxy: %w", err))
		}
	}
	if state.substituteAttempted {
		if err := s.swapper.Restore(pinnedCertPath); err != nil {
			s.logger.Warnf("cannot restore the pinned certificate: %s", err.Error())
			s.logger.Warnf("%s may still contain the interception certificate: restore it manually", pinnedCertPath)
			errs = append(errs, fmt.Errorf("restoring pinned certificate: %w", err))
		}
	}
	return errors.Join(errs...)
}
