package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rocketbitz/fidomain/fi"
	"github.com/rocketbitz/fidomain/provider/sockets"
)

type rootOptions struct {
	configPath string
	verbose    bool
	logger     *zap.SugaredLogger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "fabctl",
		Short: "Inspect fabric providers, addresses and peers",
		Long: `fabctl lists the registered fabric providers and their descriptors,
renders and packs fabric addresses, and resolves peers through an address
vector opened on the sockets provider.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(opts.verbose)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "sockets provider configuration file (YAML)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging to stderr")

	cmd.AddCommand(
		newProvidersCommand(opts),
		newStrAddrCommand(),
		newRxAddrCommand(),
		newResolveCommand(opts),
	)
	return cmd
}

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	if !verbose {
		return zap.NewNop().Sugar(), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// provider registers the configured sockets provider, if any, and returns the
// name to discover. Without a config the built-in instance is used.
func (o *rootOptions) provider() (string, error) {
	if o.configPath == "" {
		return sockets.Name, nil
	}
	cfg, err := sockets.LoadConfig(o.configPath)
	if err != nil {
		return "", err
	}
	if _, ok := fi.LookupProvider(cfg.Name); ok {
		fi.Unregister(cfg.Name)
	}
	if _, err := sockets.Register(cfg); err != nil {
		return "", err
	}
	o.logger.Debugw("provider registered", "provider", cfg.Name, "config", o.configPath)
	return cfg.Name, nil
}
