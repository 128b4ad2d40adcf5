package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/mas/internal/tracestore/fsstore"
)

func buildInspectCmd() *cobra.Command {
	var storeDir string

	cmd := &cobra.Command{
		Use:   "inspect <node-id>",
		Short: "Print a persisted node record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := fsstore.New(storeDir)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}

			rec, ok, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get node: %w", err)
			}
			if !ok {
				return fmt.Errorf("no node record for id %q", args[0])
			}
			return printJSON(cmd, rec)
		},
	}
	cmd.Flags().StringVar(&storeDir, "store", "./mas-data", "fsstore directory")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
