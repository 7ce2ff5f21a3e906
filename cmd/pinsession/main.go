// Command pinsession runs an interception proxy session against a
// mobile application that pins its TLS trust anchor.
//
// It re-encodes the app's pinned CA certificate, substitutes it with
// mitmproxy's CA certificate, points the system network proxy at
// mitmproxy, runs mitmproxy until you quit it, and then restores both
// the certificate and the network configuration.
package main

import (
	"os"

	"github.com/apex/log"
	"github.com/appintercept/pinsession/internal/logx"
	"github.com/appintercept/pinsession/internal/session"
	"github.com/spf13/cobra"
)

// Options contains the options you can set from the CLI.
type Options struct {
	AppRoot          string
	DonationRedirect bool
	ListenHost       string
	ListenPort       int
	MitmCertPath     string
	NoNetworkProxy   bool
	PinnedCert       string
	ProxyHelper      string
	ScriptPaths      []string
	Verbose          bool
	WebUI            bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand creates the root cobra command.
func newRootCommand() *cobra.Command {
	var options Options
	rootCmd := &cobra.Command{
		Use:           "pinsession",
		Short:         "pinsession proxies a cert-pinning app through mitmproxy",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mainWithOptions(&options)
		},
	}
	flags := rootCmd.Flags()

	flags.StringVar(
		&options.AppRoot,
		"app-root",
		"",
		"path to the root of the monitored application's repository",
	)

	flags.BoolVar(
		&options.DonationRedirect,
		"donation-redirect",
		false,
		"register the bundled donation redirect addon",
	)

	flags.StringVar(
		&options.ListenHost,
		"listen-host",
		session.DefaultListenHost,
		"address at which the interception proxy listens",
	)

	flags.IntVar(
		&options.ListenPort,
		"listen-port",
		session.DefaultListenPort,
		"port at which the interception proxy listens",
	)

	flags.StringVar(
		&options.MitmCertPath,
		"mitm-cert",
		"",
		"override the path of mitmproxy's generated CA certificate",
	)

	flags.BoolVar(
		&options.NoNetworkProxy,
		"no-network-proxy",
		false,
		"do not configure the system network proxy (useful with a physical device rather than a simulator)",
	)

	flags.StringVar(
		&options.PinnedCert,
		"pinned-cert",
		session.DefaultPinnedCertRelPath,
		"path of the pinned certificate relative to --app-root",
	)

	flags.StringVar(
		&options.ProxyHelper,
		"proxy-helper",
		"",
		"command line of the helper toggling the system network proxy",
	)

	flags.StringArrayVar(
		&options.ScriptPaths,
		"script",
		[]string{},
		"path of a mitmproxy addon script to load (may be passed multiple times)",
	)

	flags.BoolVarP(
		&options.Verbose,
		"verbose",
		"v",
		false,
		"increase verbosity level",
	)

	flags.BoolVar(
		&options.WebUI,
		"web-ui",
		false,
		"use mitmweb instead of mitmproxy to inspect flows in a web UI",
	)

	rootCmd.MarkFlagRequired("app-root")
	return rootCmd
}

// mainWithOptions is the main with parsed options.
func mainWithOptions(options *Options) error {
	logger := &log.Logger{Level: log.InfoLevel, Handler: logx.Default}
	if options.Verbose {
		logger.Level = log.DebugLevel
	}
	log.Log = logger

	config := &session.Config{
		AppRoot:              options.AppRoot,
		DonationRedirect:     options.DonationRedirect,
		InterceptionCertPath: options.MitmCertPath,
		ListenHost:           options.ListenHost,
		ListenPort:           options.ListenPort,
		PinnedCertRelPath:    options.PinnedCert,
		ProxyHelper:          options.ProxyHelper,
		ScriptPaths:          options.ScriptPaths,
		SkipNetworkProxy:     options.NoNetworkProxy,
		WebUI:                options.WebUI,
	}
	sess := session.New(config, logger)
	if err := sess.Run(); err != nil {
		logger.Warnf("session failed: %s", err.Error())
		return err
	}
	logger.Info("session complete: certificate and network configuration restored")
	return nil
}
