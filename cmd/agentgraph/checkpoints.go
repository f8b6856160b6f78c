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

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
)

func newCheckpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoints",
		Aliases: []string{"cp"},
		Short:   "Inspect and remove stored checkpoints",
		Long:    `List, show and delete the checkpoints of an agent in the configured store.`,
	}
	cmd.AddCommand(newCheckpointsListCmd(), newCheckpointsShowCmd(), newCheckpointsDeleteCmd())
	return cmd
}

func newCheckpointsListCmd() *cobra.Command {
	var (
		runID string
		kind  string
		since time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List the agent's checkpoints, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := checkpoint.Filter{RunID: runID}
			switch kind {
			case "", "any":
			case "manual":
				filter.Kind = checkpoint.KindManual
			case "auto":
				filter.Kind = checkpoint.KindAuto
			default:
				return fmt.Errorf("unknown kind %q (want any, manual or auto)", kind)
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			return withStore(cmd, func(ctx context.Context, store checkpoint.Store, agentID string) error {
				cps, err := store.List(ctx, agentID, filter)
				if err != nil {
					return err
				}
				return printCheckpoints(cmd.OutOrStdout(), agentID, cps)
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Only checkpoints of this run")
	cmd.Flags().StringVar(&kind, "kind", "any", "any, manual or auto")
	cmd.Flags().DurationVar(&since, "since", 0, "Only checkpoints newer than this, e.g. 1h")
	return cmd
}

func newCheckpointsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <checkpoint-id>",
		Short: "Print a checkpoint as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store checkpoint.Store, agentID string) error {
				cp, err := store.Get(ctx, agentID, args[0])
				if err != nil {
					return fmt.Errorf("checkpoint %s: %w", args[0], err)
				}
				data, err := json.MarshalIndent(cp, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			})
		},
	}
}

func newCheckpointsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm",
		Short: "Delete all checkpoints of the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store checkpoint.Store, agentID string) error {
				if err := store.Delete(ctx, agentID); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed checkpoints of agent '%s'\n", agentID)
				return err
			})
		},
	}
}

// withStore opens the configured store for fn and closes it afterwards.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store checkpoint.Store, agentID string) error) (err error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	switch settings.Checkpoint.Backend {
	case config.BackendNone:
		return errors.New("no checkpoint backend configured")
	case config.BackendMemory:
		return errors.New("the memory backend does not outlive a run; configure a persistent backend")
	}

	logger, err := newLogger(settings.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), settings.Checkpoint, logger)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer func() {
		err = errors.Join(err, store.Close())
	}()
	return fn(cmd.Context(), store, settings.Checkpoint.AgentID)
}

func printCheckpoints(w io.Writer, agentID string, cps []*checkpoint.Checkpoint) error {
	if len(cps) == 0 {
		_, err := fmt.Fprintf(w, "No checkpoints for agent '%s'.\n", agentID)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tKIND\tNODE\tMESSAGES\tCREATED")
	for _, cp := range cps {
		kind := "manual"
		if cp.Auto {
			kind = "auto"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\n",
			cp.ID, cp.Version, kind, strings.Join(cp.NodePath, "/"), len(cp.History),
			cp.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
