package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/hostbridge/pkg/model"
	"github.com/spf13/cobra"
)

func newOpsCmd() *cobra.Command {
	var (
		flagStatus string
		flagKind   string
		flagLimit  int
		flagOffset int
	)

	cmd := &cobra.Command{
		Use:   "ops [operation_id]",
		Short: "List journaled operations, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				resp, err := client.Get(cmd.Context(), "/api/v1/operations/"+url.PathEscape(args[0]))
				if err != nil {
					return fmt.Errorf("get operation: %w", err)
				}
				var op model.Operation
				if err := json.Unmarshal(resp.Data, &op); err != nil {
					return fmt.Errorf("parse response: %w", err)
				}
				printOperation(cmd, &op)
				return nil
			}

			q := url.Values{}
			if flagStatus != "" {
				q.Set("status", flagStatus)
			}
			if flagKind != "" {
				q.Set("kind", flagKind)
			}
			q.Set("limit", strconv.Itoa(flagLimit))
			q.Set("offset", strconv.Itoa(flagOffset))

			resp, err := client.Get(cmd.Context(), "/api/v1/operations?"+q.Encode())
			if err != nil {
				return fmt.Errorf("list operations: %w", err)
			}

			var ops []model.Operation
			if err := json.Unmarshal(resp.Data, &ops); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(ops) == 0 {
				fmt.Fprintln(out, "No operations found.")
				return nil
			}

			fmt.Fprintf(out, "%-36s  %-22s  %-10s  %-8s  %s\n", "ID", "KIND", "STATUS", "ATTEMPTS", "CREATED")
			fmt.Fprintf(out, "%-36s  %-22s  %-10s  %-8s  %s\n", "--", "----", "------", "--------", "-------")
			for _, op := range ops {
				fmt.Fprintf(out, "%-36s  %-22s  %-10s  %-8d  %s\n",
					op.ID, op.Kind, op.Status, op.Attempts, humanize.Time(op.CreatedAt))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %s shown)\n", len(ops), humanize.Comma(int64(resp.Pagination.Total)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagStatus, "status", "", "Filter by status (pending, running, completed, failed)")
	cmd.Flags().StringVar(&flagKind, "kind", "", "Filter by task kind")
	cmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum operations to list")
	cmd.Flags().IntVar(&flagOffset, "offset", 0, "Skip this many operations")
	return cmd
}

func printOperation(cmd *cobra.Command, op *model.Operation) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Operation: %s\n", op.ID)
	fmt.Fprintf(out, "  Kind:     %s\n", op.Kind)
	fmt.Fprintf(out, "  Status:   %s\n", op.Status)
	fmt.Fprintf(out, "  Attempts: %d\n", op.Attempts)
	if op.Tier != "" {
		fmt.Fprintf(out, "  Tier:     %s (%d chunk(s))\n", op.Tier, op.Chunks)
	}
	fmt.Fprintf(out, "  Created:  %s (%s)\n", op.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(op.CreatedAt))
	if op.CompletedAt != nil {
		fmt.Fprintf(out, "  Finished: %s after %s\n", humanize.Time(*op.CompletedAt),
			op.CompletedAt.Sub(op.CreatedAt).Round(time.Millisecond))
	}
	if op.Error != "" {
		fmt.Fprintf(out, "  Error:    %s (code %d)\n", op.Error, op.ErrorCode)
	}
	if op.Result != nil {
		b, _ := json.MarshalIndent(op.Result, "  ", "  ")
		fmt.Fprintf(out, "  Result:   %s\n", b)
	}
}
