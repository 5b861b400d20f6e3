package main

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nainya/schedver/pkg/engine"
	"github.com/nainya/schedver/pkg/version"
)

var historyLimit int

type changeEntry struct {
	Field     string        `yaml:"field"`
	OldValue  version.Value `yaml:"old"`
	NewValue  version.Value `yaml:"new"`
	ChangedBy string        `yaml:"by"`
}

type historyEntry struct {
	Version   int           `yaml:"version"`
	ID        string        `yaml:"id"`
	CreatedBy string        `yaml:"createdBy"`
	CreatedAt string        `yaml:"createdAt"`
	Reason    string        `yaml:"reason,omitempty"`
	Changes   []changeEntry `yaml:"changes"`
}

func writeHistory(w io.Writer, nodes []*version.Node) error {
	entries := make([]historyEntry, 0, len(nodes))
	for _, n := range nodes {
		e := historyEntry{
			Version:   n.VersionNumber,
			ID:        n.VersionID.String(),
			CreatedBy: n.CreatedBy,
			CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
			Reason:    n.Metadata.Reason,
			Changes:   make([]changeEntry, 0, len(n.Changes)),
		}
		for _, c := range n.Changes {
			e.Changes = append(e.Changes, changeEntry{
				Field:     c.Field,
				OldValue:  c.OldValue,
				NewValue:  c.NewValue,
				ChangedBy: c.ChangedBy,
			})
		}
		entries = append(entries, e)
	}

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(entries)
}

var historyCmd = &cobra.Command{
	Use:   "history <document>",
	Short: "Print the most recent versions of a document, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
			nodes, err := eng.GetVersionHistory(ctx, args[0], historyLimit)
			if err != nil {
				return err
			}
			return writeHistory(cmd.OutOrStdout(), nodes)
		})
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Number of versions to show (default from config)")
	rootCmd.AddCommand(historyCmd)
}
