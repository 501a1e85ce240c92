package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"kycflow/internal/verification/models"
	id "kycflow/pkg/domain"
)

type syncOptions struct {
	*RootOptions
	Status    string
	SessionID string
	OlderThan time.Duration
}

// requeueResult is the requeue output.
type requeueResult struct {
	Requeued int `json:"requeued"`
}

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect and re-activate upload tasks",
	}
	cmd.AddCommand(newSyncListCommand(rootOpts))
	cmd.AddCommand(newSyncRequeueCommand(rootOpts))
	return cmd
}

func newSyncListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &syncOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sync tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := opts.filter()
			if err != nil {
				return err
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			tasks, err := s.ListSyncTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			t := table{header: []string{"SESSION", "STATUS", "ATTEMPTS", "NEXT ATTEMPT", "LAST ERROR"}}
			for _, task := range tasks {
				t.rows = append(t.rows, []string{
					task.SessionID.String(),
					string(task.Status),
					strconv.Itoa(task.Attempts),
					formatTime(&task.NextAttemptAt),
					task.LastError,
				})
			}
			return write(cmd.OutOrStdout(), opts.Format, tasks, t)
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (pending|uploading|synced|failed)")
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "filter by session id")
	return cmd
}

func newSyncRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &syncOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Move parked (failed) tasks back to pending",
		Long: `Move parked sync tasks back to pending so the daemon retries them
on its next poll. The task keeps its payload and attempt count.

Examples:
  kycctl sync requeue
  kycctl sync requeue --session 7f0c...
  kycctl sync requeue --older-than 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := opts.filter()
			if err != nil {
				return err
			}
			if opts.OlderThan > 0 {
				filter.ParkedBefore = time.Now().Add(-opts.OlderThan)
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.RequeueSyncTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			t := table{header: []string{"REQUEUED"}, rows: [][]string{{strconv.Itoa(n)}}}
			return write(cmd.OutOrStdout(), opts.Format, requeueResult{Requeued: n}, t)
		},
	}
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "requeue only this session")
	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 0, "requeue only tasks parked longer than this")
	return cmd
}

func (o *syncOptions) filter() (models.SyncFilter, error) {
	var filter models.SyncFilter
	if o.Status != "" {
		status := models.SyncTaskStatus(o.Status)
		switch status {
		case models.SyncTaskPending, models.SyncTaskUploading, models.SyncTaskSynced, models.SyncTaskFailed:
			filter.Status = status
		default:
			return filter, fmt.Errorf("invalid status %q", o.Status)
		}
	}
	if o.SessionID != "" {
		sessionID, err := id.ParseSessionID(o.SessionID)
		if err != nil {
			return filter, err
		}
		filter.SessionID = &sessionID
	}
	return filter, nil
}
