package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/mas/internal/kernel"
	"github.com/haasonsaas/mas/internal/replay"
	"github.com/haasonsaas/mas/internal/tracestore/fsstore"
)

func buildReplayCmd() *cobra.Command {
	var storeDir string
	var referenceTraceID string
	var restartNodeID string

	cmd := &cobra.Command{
		Use:   "replay <input-md5>",
		Short: "Preview the restart engine's decision for a given reference trace and input hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := fsstore.New(storeDir)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}

			req := &kernel.Request{
				ReferenceTraceID: referenceTraceID,
				InputMD5:         args[0],
				RestartNodeID:    restartNodeID,
			}
			if restartNodeID != "" {
				if err := replay.PrepareRestart(cmd.Context(), store, req, referenceTraceID); err != nil {
					return fmt.Errorf("prepare restart: %w", err)
				}
			}

			engine := replay.New(store)
			resp, intercepted, err := engine.Intercept(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("intercept: %w", err)
			}
			if !intercepted {
				fmt.Fprintln(cmd.OutOrStdout(), "no matching node record; this call would execute live")
				return nil
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&storeDir, "store", "./mas-data", "fsstore directory")
	cmd.Flags().StringVar(&referenceTraceID, "reference-trace", "", "reference_trace_id to replay against")
	cmd.Flags().StringVar(&restartNodeID, "restart-node", "", "restart_node_id, if previewing an operator-directed restart")
	return cmd
}
