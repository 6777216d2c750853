package main

import (
	"context"
	"net/http"

	"github.com/ellogroup/ello-golang-closeio/closeio"
	"github.com/ellogroup/ello-golang-closeio/internal/commands"
	"github.com/ellogroup/ello-golang-closeio/internal/config"
	"github.com/ellogroup/ello-golang-closeio/internal/logging"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg config.Config

	configPath, envFile, outDir string
	flagAPIKey                  string
	flagConfirmed, flagDebug    bool
	flagContinueOnError         bool
	flagConcurrency             int
	flagShardSize               int
)

var rootCmd = &cobra.Command{
	Use:           "closeutil",
	Short:         "Bulk exports, imports and organization clones for Close",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(configPath, envFile)
		if err != nil {
			return eris.Wrap(err, "load config")
		}

		flags := cmd.Flags()
		if flags.Changed("api-key") {
			cfg.APIKey = flagAPIKey
		}
		if flags.Changed("confirmed") {
			cfg.Confirmed = flagConfirmed
		}
		if flags.Changed("continue-on-error") {
			cfg.ContinueOnError = flagContinueOnError
		}
		if flags.Changed("concurrency") {
			cfg.Concurrency = flagConcurrency
		}
		if flags.Changed("shard-size") {
			cfg.ShardSize = flagShardSize
		}
		if flags.Changed("debug") {
			cfg.Debug = flagDebug
		}

		zap.ReplaceGlobals(logging.New(cfg.Debug, !cfg.Confirmed))
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagAPIKey, "api-key", "k", "", "Close API key (or "+config.EnvAPIKey+")")
	pf.BoolVarP(&flagConfirmed, "confirmed", "c", false, "issue the writes; without it the run is a dry run")
	pf.BoolVar(&flagContinueOnError, "continue-on-error", false, "keep going after a failed row in line oriented imports")
	pf.IntVar(&flagConcurrency, "concurrency", transfer.DefaultConcurrency, "number of concurrent requests")
	pf.IntVar(&flagShardSize, "shard-size", transfer.DefaultShardSize, "records per shard of sharded searches")
	pf.StringVar(&configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&envFile, "env-file", config.DefaultEnvFile, "path to a .env file")
	pf.StringVarP(&outDir, "out-dir", "o", "", "directory for report files")
	pf.BoolVar(&flagDebug, "debug", false, "print debugging information")
}

// newClient validates c and builds a Close client for its API key.
func newClient(ctx context.Context, c config.Config) (*closeio.RequestHelper, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	kg, err := c.KeyGetter(ctx, zap.L())
	if err != nil {
		return nil, eris.Wrap(err, "api key")
	}
	h, err := closeio.NewRequestHelper(&http.Client{}, kg, c.BaseURL, c.RetryPolicy())
	if err != nil {
		return nil, eris.Wrap(err, "close client")
	}
	return h.WithLogger(zap.L()), nil
}

func newFetcher(src transfer.Lister) *transfer.Fetcher {
	return transfer.NewFetcher(src,
		transfer.ShardSize(cfg.ShardSize),
		transfer.Concurrency(cfg.Concurrency),
		transfer.FetcherLogger(zap.L()),
	)
}

func newWriter(dest transfer.Mutator, opts ...transfer.WriterOpt) *transfer.Writer {
	return transfer.NewWriter(dest, append([]transfer.WriterOpt{
		transfer.Confirmed(cfg.Confirmed),
		transfer.WriterConcurrency(cfg.Concurrency),
		transfer.WriterLogger(zap.L()),
	}, opts...)...)
}

// newDeps wires the command collaborators for the configured API key.
func newDeps(ctx context.Context, opts ...transfer.WriterOpt) (*commands.Deps, error) {
	h, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d := commands.NewDeps(h, newFetcher(h), newWriter(h, opts...), zap.L())
	d.OutDir = outDir
	return d, nil
}

func logSummary(w *transfer.Writer) {
	zap.L().Info("run complete", zap.Object("summary", w.Summary().Counts()))
}
