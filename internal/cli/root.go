// Package cli implements regctl, the command-line front end for batch
// ingestion, directory watching and asking questions without the server.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"regchat/internal/app"
	"regchat/internal/config"
	"regchat/internal/ingest"
	"regchat/internal/logger"
	"regchat/internal/pipeline"
)

type Ingester interface {
	IngestFile(ctx context.Context, path, documentID string) (int, error)
	IsProcessed(ctx context.Context, documentID string) bool
	ListDocuments(ctx context.Context) ([]ingest.DocumentInfo, error)
}

type Answerer interface {
	Answer(ctx context.Context, query string, k int, sourceFilter string) (*pipeline.Result, error)
}

// Runtime is what the commands run against.
type Runtime struct {
	Ingest   Ingester
	Pipeline Answerer
	Close    func()
}

type (
	ConfigLoader func() (*config.Config, error)
	Opener       func(ctx context.Context, cfg *config.Config) (*Runtime, error)
)

// OpenRuntime builds the standalone retrieval stack from cfg.
func OpenRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	core, cleanup, err := app.OpenCore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Runtime{Ingest: core.Ingest, Pipeline: core.Pipeline, Close: cleanup}, nil
}

// Execute runs regctl with the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCmd(config.Load, OpenRuntime).ExecuteContext(ctx)
}

func NewRootCmd(load ConfigLoader, open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "regctl",
		Short: "Ingest and query university regulation PDFs",
		Long: `regctl chunks and indexes regulation PDFs into the configured vector store
and answers questions against them. It reads the same environment as the server.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "debug logging to stderr")

	root.AddCommand(
		newIngestCmd(load, open),
		newWatchCmd(load, open),
		newAskCmd(load, open),
		newDocsCmd(load, open),
	)
	return root
}

// setup loads config, lets mutate apply flag overrides, validates the result
// and opens the runtime.
func setup(cmd *cobra.Command, load ConfigLoader, open Opener, mutate func(*config.Config)) (*config.Config, *Runtime, error) {
	cfg, err := load()
	if err != nil {
		return nil, nil, err
	}
	if mutate != nil {
		mutate(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	slog.SetDefault(logger.New(os.Stderr, cfg.LogLevel))

	rt, err := open(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	if rt.Close == nil {
		rt.Close = func() {}
	}
	return cfg, rt, nil
}
