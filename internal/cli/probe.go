package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"rapidmedia/internal/session"
	"rapidmedia/pkg/models"
)

func newProbeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <file>",
		Short: "Print the inputs the transcoder reports for a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			source, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			// Probing never touches session storage.
			manager := session.NewManager(cfg.SessionConfig(), nil)
			defer manager.Close()

			inputs, err := manager.Probe(cmd.Context(), source)
			if err != nil {
				return fmt.Errorf("probing %s: %w", args[0], err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(models.ProbeResponse{Source: source, Inputs: inputs})
		},
	}
}
