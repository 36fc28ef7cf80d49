package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/review"
	"claims-orchestrator/internal/state"
	appTemporal "claims-orchestrator/internal/temporal"
)

type claimStore interface {
	GetState(ctx context.Context, claimID string) (domain.ClaimState, error)
	ListStates(ctx context.Context, f state.Filter) ([]domain.ClaimState, error)
	GetStatistics(ctx context.Context) (state.Statistics, error)
	DeleteState(ctx context.Context, claimID string) (bool, error)
}

type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Deps are the backends every subcommand talks to.
type Deps struct {
	Claims           claimStore
	Reviews          review.Queue
	Workflows        workflowStarter
	TaskQueue        string
	WorkflowIDPrefix string
}

type connectFunc func(ctx context.Context) (*Deps, func(), error)

func newRootCmd(connectFn connectFunc) *cobra.Command {
	deps := &Deps{}
	var closeFn func()

	root := &cobra.Command{
		Use:   "claimctl",
		Short: "Operate on insurance claims in the orchestrator",
		Long: `claimctl reads claim state from Postgres, the review queue from Redis, and
starts Temporal workflows for resubmission.

Configuration comes from the same environment variables as the services
(POSTGRES_DSN, REDIS_ADDR, TEMPORAL_ADDRESS, ...).

Examples:
  claimctl list --status pending_review
  claimctl get CLM-42 -o json
  claimctl resubmit CLM-42`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			d, c, err := connectFn(cmd.Context())
			if err != nil {
				return err
			}
			*deps = *d
			closeFn = c
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if closeFn != nil {
				closeFn()
			}
		},
	}

	root.AddCommand(newListCmd(deps))
	root.AddCommand(newGetCmd(deps))
	root.AddCommand(newStatsCmd(deps))
	root.AddCommand(newResubmitCmd(deps))
	root.AddCommand(newDeleteCmd(deps))
	root.AddCommand(newReviewsCmd(deps))
	return root
}

func newListCmd(deps *Deps) *cobra.Command {
	var status, priority, since, output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List claims",
		Long: `List claims, optionally narrowed by status, priority and creation time.

Examples:
  claimctl list
  claimctl list --status failed --priority urgent
  claimctl list --since 24h -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := buildFilter(status, priority, since, time.Now())
			if err != nil {
				return err
			}
			items, err := deps.Claims.ListStates(cmd.Context(), f)
			if err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tCORRECTIONS\tUPDATED")
			fmt.Fprintln(w, "--\t------\t--------\t-----------\t-------")
			for _, st := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					st.Record.ID, st.Record.Status, st.Record.Priority,
					st.CorrectionAttempts, st.Record.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only claims in this status")
	cmd.Flags().StringVar(&priority, "priority", "", "Only claims with this priority: normal, high, urgent")
	cmd.Flags().StringVar(&since, "since", "", "Only claims created within this duration (e.g. 24h)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json")
	return cmd
}

func newGetCmd(deps *Deps) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <claim-id>",
		Short: "Show a claim and its processing history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := deps.Claims.GetState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Claim:        %s\n", st.Record.ID)
			fmt.Fprintf(out, "Status:       %s\n", st.Record.Status)
			fmt.Fprintf(out, "Priority:     %s\n", st.Record.Priority)
			fmt.Fprintf(out, "Document:     %s\n", st.Record.DocumentID)
			fmt.Fprintf(out, "Corrections:  %d\n", st.CorrectionAttempts)
			if st.LastError != "" {
				fmt.Fprintf(out, "Last error:   %s\n", st.LastError)
			}
			fmt.Fprintln(out, "History:")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, e := range st.Record.ProcessingHistory {
				fmt.Fprintf(w, "  %s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Status, e.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json")
	return cmd
}

func newStatsCmd(deps *Deps) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show claim counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := deps.Claims.GetStatistics(cmd.Context())
			if err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STATUS\tCOUNT")
			for _, s := range domain.AllStatuses() {
				fmt.Fprintf(w, "%s\t%d\n", s, stats.ByStatus[s])
			}
			fmt.Fprintf(w, "total\t%d\n", stats.Total)
			fmt.Fprintf(w, "avg corrections\t%.2f\n", stats.AverageCorrectionAttempts)
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json")
	return cmd
}

func newResubmitCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "resubmit <claim-id>",
		Short: "Start a new workflow run for a failed claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			claimID := args[0]
			st, err := deps.Claims.GetState(ctx, claimID)
			if err != nil {
				return err
			}
			if st.Record.Status != domain.StatusFailed {
				return fmt.Errorf("claim %s is %s; only failed claims can be resubmitted", claimID, st.Record.Status)
			}

			workflowID := appTemporal.WorkflowID(deps.WorkflowIDPrefix, claimID)
			_, err = deps.Workflows.ExecuteWorkflow(ctx, appTemporal.ResubmitStartOptions(workflowID, deps.TaskQueue),
				appTemporal.ClaimWorkflowName, appTemporal.ClaimWorkflowInput{ClaimID: claimID, Resubmit: true})
			if err != nil {
				var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
				if errors.As(err, &alreadyStarted) {
					return fmt.Errorf("claim %s still has a running workflow", claimID)
				}
				return fmt.Errorf("start workflow: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resubmitted %s (workflow %s)\n", claimID, workflowID)
			return nil
		},
	}
}

func newDeleteCmd(deps *Deps) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <claim-id>",
		Short: "Delete a completed or failed claim",
		Long: `Delete a settled claim's state. Claims that are still being processed or
are waiting on review are refused unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			claimID := args[0]
			st, err := deps.Claims.GetState(ctx, claimID)
			if err != nil {
				return err
			}
			if s := st.Record.Status; !force && s != domain.StatusCompleted && s != domain.StatusFailed {
				return fmt.Errorf("claim %s is %s; use --force to delete it anyway", claimID, s)
			}
			deleted, err := deps.Claims.DeleteState(ctx, claimID)
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("claim %s not found", claimID)
			}
			if _, err := deps.Reviews.Dequeue(ctx, claimID); err != nil {
				return fmt.Errorf("claim deleted but review entry remains: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", claimID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Delete even if the claim is not settled")
	return cmd
}

func newReviewsCmd(deps *Deps) *cobra.Command {
	var priority, output string

	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "List claims waiting on human review, most urgent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var f review.Filter
			if priority != "" {
				p, ok := domain.ParsePriority(priority)
				if !ok {
					return fmt.Errorf("invalid priority %q", priority)
				}
				f.Priority = p
			}
			items, err := deps.Reviews.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CLAIM\tPRIORITY\tREASON\tFIELDS\tENQUEUED")
			fmt.Fprintln(w, "-----\t--------\t------\t------\t--------")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					it.ClaimID, it.Priority, it.Reason,
					strings.Join(it.LowConfidenceFields, ","), it.EnqueuedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&priority, "priority", "", "Only items with this priority")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json")
	return cmd
}

func buildFilter(status, priority, since string, now time.Time) (state.Filter, error) {
	var f state.Filter
	if status != "" {
		f.Status = domain.ClaimStatus(status)
		if !f.Status.Valid() {
			return f, fmt.Errorf("invalid status %q", status)
		}
	}
	if priority != "" {
		p, ok := domain.ParsePriority(priority)
		if !ok {
			return f, fmt.Errorf("invalid priority %q", priority)
		}
		f.Priority = p
	}
	if since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			return f, fmt.Errorf("invalid --since: %w", err)
		}
		f.From = now.Add(-d)
	}
	return f, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
