// Package app provides the entry point for the agentgateway command-line
// application.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/agentgateway/agentgateway/pkg/admin"
	"github.com/agentgateway/agentgateway/pkg/config"
	"github.com/agentgateway/agentgateway/pkg/config/xds"
	"github.com/agentgateway/agentgateway/pkg/gateway"
	"github.com/agentgateway/agentgateway/pkg/logger"
)

// version is replaced at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:               "agentgateway",
	DisableAutoGenTag: true,
	Short:             "agentgateway is a programmable data plane for AI agents",
	Long: `agentgateway terminates client connections from AI agents and routes them
to MCP tool servers, A2A peers, LLM providers, and plain HTTP services.

It merges configuration from a static file, a watched local file, and an
xDS control plane into one versioned routing snapshot, matches incoming
requests against that snapshot's bind/listener/route/backend chain, runs
a phased CEL policy pipeline, and mediates MCP and A2A traffic through
stateful protocol adapters backed by a virtual-tool composition engine.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd builds the root agentgateway command.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().StringP("config", "f", "", "path to the gateway configuration file")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("agentgateway version: %s", version)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "validate a configuration file without starting the gateway",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := viper.GetString("config")
			if path == "" {
				return fmt.Errorf("no configuration file specified, use --config/-f")
			}

			doc, err := config.LoadDocument(path)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if _, err := config.Validate(doc); err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			logger.Infof("configuration %q is valid", path)
			logger.Infof("  binds: %d, listeners: %d, routes: %d, backends: %d",
				len(doc.Binds), len(doc.Listeners), len(doc.Routes), len(doc.Backends))
			if doc.Registry != nil {
				logger.Infof("  registry tools: %d, servers: %d, agents: %d",
					len(doc.Registry.Tools), len(doc.Registry.Servers), len(doc.Registry.Agents))
			}
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the gateway data plane",
		RunE:  runServe,
	}

	cmd.Flags().Bool("watch", false, "watch the config file for changes and hot-reload")
	cmd.Flags().Duration("watch-debounce", 500*time.Millisecond, "debounce window for config file watch reloads")
	cmd.Flags().String("xds-target", "", "xDS control plane address (host:port); disabled if empty")
	cmd.Flags().String("xds-node-id", "agentgateway", "node ID presented to the xDS control plane")
	cmd.Flags().String("admin-addr", "127.0.0.1:9901", "address for the admin/metrics/health HTTP surface")
	cmd.Flags().String("external-base-url", "", "this gateway's own externally visible base URL, for A2A URL rewriting")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	configPath := viper.GetString("config")
	if configPath == "" {
		return fmt.Errorf("no configuration file specified, use --config/-f")
	}

	watch, _ := cmd.Flags().GetBool("watch")
	debounce, _ := cmd.Flags().GetDuration("watch-debounce")
	xdsTarget, _ := cmd.Flags().GetString("xds-target")
	xdsNodeID, _ := cmd.Flags().GetString("xds-node-id")
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	externalBaseURL, _ := cmd.Flags().GetString("external-base-url")

	store := config.NewStore()

	var reload admin.ReloadFunc
	if watch {
		watcher, err := config.NewLocalWatcher(configPath, store, debounce)
		if err != nil {
			return fmt.Errorf("creating config watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("starting config watcher: %w", err)
		}
		defer watcher.Stop()
		reload = watcher.Reload
		logger.Infof("watching configuration file: %s", configPath)
	} else {
		doc, err := config.LoadDocument(configPath)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		if err := store.SetSource(config.SourceLocal, doc); err != nil {
			return fmt.Errorf("applying configuration: %w", err)
		}
		logger.Infof("loaded configuration file: %s", configPath)
	}

	if xdsTarget != "" {
		xdsClient := xds.NewClient(xdsTarget, xdsNodeID, store)
		logger.Infof("connecting to xDS control plane at %s (node %s)", xdsTarget, xdsNodeID)
		go func() {
			if err := xdsClient.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Errorw("xds client stopped", "error", err)
			}
		}()
	}

	gw, err := gateway.New(store, externalBaseURL, "agentgateway", version)
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	adminSrv := admin.NewServer(store, reload, nil)
	httpAdmin := &http.Server{
		Addr:              adminAddr,
		Handler:           adminSrv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Run(gctx)
	})
	g.Go(func() error {
		logger.Infof("admin surface listening on %s", adminAddr)
		errCh := make(chan error, 1)
		go func() { errCh <- httpAdmin.ListenAndServe() }()
		select {
		case <-gctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpAdmin.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}
