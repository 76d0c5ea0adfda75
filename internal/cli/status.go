package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/me/hostbridge/pkg/model"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the scheduler status reported by the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/status")
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}

			var data struct {
				Scheduler *model.Status          `json:"scheduler"`
				Journal   *model.OperationCounts `json:"journal"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			if st := data.Scheduler; st != nil {
				state := "stopped"
				switch {
				case st.Degraded:
					state = "degraded"
				case st.Running:
					state = "running"
				}
				fmt.Fprintf(out, "Scheduler:   %s\n", state)
				fmt.Fprintf(out, "  Port:        %d\n", st.Port)
				if st.StartedAt != nil {
					fmt.Fprintf(out, "  Started:     %s\n", humanize.Time(*st.StartedAt))
				}
				if st.Interval != "" {
					fmt.Fprintf(out, "  Interval:    %s\n", st.Interval)
				}
				fmt.Fprintf(out, "  Connections: %s\n", humanize.Comma(int64(st.ActiveConnections)))
				fmt.Fprintf(out, "  Queue:       %s\n", humanize.Comma(int64(st.QueueLength)))
				fmt.Fprintf(out, "  Operations:  %s\n", formatCounts(st.Operations))
			}
			if data.Journal != nil {
				fmt.Fprintf(out, "Journal:     %s\n", formatCounts(*data.Journal))
			}
			return nil
		},
	}
}

func formatCounts(c model.OperationCounts) string {
	return fmt.Sprintf("%s pending, %s running, %s completed, %s failed",
		humanize.Comma(int64(c.Pending)), humanize.Comma(int64(c.Running)),
		humanize.Comma(int64(c.Completed)), humanize.Comma(int64(c.Failed)))
}
