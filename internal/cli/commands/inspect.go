package commands

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/compcache/internal/cli/ui"
	"github.com/conduit-lang/compcache/internal/coordinator"
	"github.com/conduit-lang/compcache/runtime/cache"
	"github.com/conduit-lang/compcache/runtime/codec"
)

func newInspectCommand(opts *globalOptions) *cobra.Command {
	var (
		showMetadata bool
		sentinel     bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <cache-file>",
		Short: "Summarize a cache file",
		Long: `Load a cache file (raw or gzip-framed) and print its parts. Metadata values
are shown as stored; type entries are not resolved.`,
		Example: `  compcache inspect graph.bin
  compcache inspect graph.bin --metadata

  # Keep going past opaque values this build cannot decode
  compcache inspect graph.bin --metadata --sentinel`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			blob, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			raw, err := coordinator.DecompressLimit(blob, cfg.Store.MaxGraphSize)
			if err != nil {
				return err
			}

			cacheOpts := cfg.CacheOptions(logger)
			if sentinel {
				cacheOpts = append(cacheOpts, cache.WithOpaquePolicy(codec.OpaqueSentinel))
			}
			g, err := cache.New(cacheOpts...).Load(cmd.Context(), bytes.NewReader(raw))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			ui.Header(out, args[0], opts.noColor)
			ui.RenderGraph(out, g, ui.GraphOptions{NoColor: opts.noColor, Metadata: showMetadata})
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showMetadata, "metadata", "m", false, "Show export and import metadata")
	cmd.Flags().BoolVar(&sentinel, "sentinel", false, "Replace undecodable opaque values instead of failing")

	return cmd
}
