package commands

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/compcache/internal/cli/ui"
	"github.com/conduit-lang/compcache/internal/manifest"
	"github.com/conduit-lang/compcache/runtime/cache"
	"github.com/conduit-lang/compcache/runtime/composition"
)

// errVerifyFailed is returned when a round trip changes the graph.
var errVerifyFailed = errors.New("verification failed")

func newVerifyCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <manifest.yaml>...",
		Short: "Round-trip catalogs through the codec and compare",
		Long: `Lower each manifest, write it, read it back and check that the loaded graph
is structurally equal to the original and that every shared export and type
descriptor is still shared.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			c := cache.New(cfg.CacheOptions(logger)...)
			out := cmd.OutOrStdout()
			failed := 0

			for _, path := range args {
				if err := verifyManifest(cmd, c, path, opts.noColor); err != nil {
					ui.Failure(out, opts.noColor, "%s: %v", path, err)
					failed++
				}
			}

			if failed > 0 {
				return fmt.Errorf("%w: %d of %d manifests", errVerifyFailed, failed, len(args))
			}
			return nil
		},
	}
}

func verifyManifest(cmd *cobra.Command, c *cache.Cache, path string, noColor bool) error {
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	original, err := m.Lower()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := c.Save(cmd.Context(), &buf, original); err != nil {
		return err
	}
	size := buf.Len()

	loaded, err := c.Load(cmd.Context(), &buf)
	if err != nil {
		return err
	}
	if !original.Equal(loaded) {
		return errors.New("loaded graph differs from the original")
	}
	if err := composition.SharingPreserved(original, loaded); err != nil {
		return err
	}

	ui.Success(cmd.OutOrStdout(), noColor, "%s: %d parts, %d bytes", path, loaded.Len(), size)
	return nil
}
