package main

import (
	"context"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nainya/schedver/pkg/engine"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Adopt or discard version nodes left ahead of their document head",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
			reports, err := reconcileAll(ctx, eng, appLog)
			if len(reports) > 0 {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				defer enc.Close()
				if encErr := enc.Encode(reports); encErr != nil {
					return encErr
				}
			}
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
