package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/compcache/internal/cli/ui"
	"github.com/conduit-lang/compcache/internal/coordinator"
	"github.com/conduit-lang/compcache/internal/manifest"
	"github.com/conduit-lang/compcache/runtime/cache"
)

func newSaveCommand(opts *globalOptions) *cobra.Command {
	var (
		output   string
		compress bool
	)

	cmd := &cobra.Command{
		Use:   "save <manifest.yaml>",
		Short: "Serialize a catalog manifest to a cache file",
		Long: `Lower a catalog manifest into a composition graph, binding every import to
the exports that satisfy it, and write the graph to a cache file.`,
		Example: `  # Write graph.bin next to the manifest
  compcache save catalog.yaml

  # Write a gzip-framed cache file
  compcache save catalog.yaml -o build/graph.bin.gz --gzip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			start := time.Now()
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			c := cache.New(cfg.CacheOptions(logger)...)
			if err := c.SaveCatalog(cmd.Context(), &buf, m); err != nil {
				return err
			}
			raw := buf.Len()

			data := buf.Bytes()
			if compress {
				if data, err = coordinator.Compress(data); err != nil {
					return err
				}
			}

			if output == "" {
				output = filepath.Join(filepath.Dir(args[0]), "graph.bin")
			}
			if dir := filepath.Dir(output); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}

			out := cmd.OutOrStdout()
			ui.Success(out, opts.noColor, "Saved %d parts to %s (%d bytes, %d raw) in %v",
				len(m.Parts), output, len(data), raw, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: graph.bin next to the manifest)")
	cmd.Flags().BoolVar(&compress, "gzip", false, "Compress the cache file with gzip")

	return cmd
}
