package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"kycflow/internal/verification/models"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

type sessionsOptions struct {
	*RootOptions
	Status string
	Limit  int
}

// sessionDetail is the show output: a session plus whichever records exist.
type sessionDetail struct {
	Session  *models.Session        `json:"session"`
	Document *models.DocumentRecord `json:"document,omitempty"`
	Face     *models.FaceRecord     `json:"face,omitempty"`
	Sync     *models.SyncTask       `json:"sync,omitempty"`
}

func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and inspect verification sessions",
	}
	cmd.AddCommand(newSessionsListCommand(rootOpts))
	cmd.AddCommand(newSessionsShowCommand(rootOpts))
	return cmd
}

func newSessionsListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &sessionsOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status := models.SessionStatus(opts.Status)
			if status != "" && !status.IsValid() {
				return fmt.Errorf("invalid status %q", opts.Status)
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			sessions, err := s.ListSessions(cmd.Context(), models.SessionFilter{Status: status, Limit: opts.Limit})
			if err != nil {
				return err
			}
			t := table{header: []string{"SESSION", "DOCUMENT", "STATUS", "SCORE", "SYNC", "CREATED"}}
			for _, sess := range sessions {
				t.rows = append(t.rows, []string{
					sess.ID.String(),
					string(sess.DocumentType),
					string(sess.Status),
					formatScore(sess.OverallScore),
					string(sess.SyncStatus),
					formatTime(&sess.CreatedAt),
				})
			}
			return write(cmd.OutOrStdout(), opts.Format, sessions, t)
		},
	}
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (in_progress|completed|failed)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum sessions to list")
	return cmd
}

func newSessionsShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session with its records and sync task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := id.ParseSessionID(args[0])
			if err != nil {
				return err
			}
			s, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			detail := sessionDetail{}
			if detail.Session, err = s.GetSession(ctx, sessionID); err != nil {
				return err
			}
			if detail.Document, err = s.GetDocumentRecord(ctx, sessionID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				return err
			}
			if detail.Face, err = s.GetFaceRecord(ctx, sessionID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				return err
			}
			if detail.Sync, err = s.GetSyncTask(ctx, sessionID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				return err
			}

			sess := detail.Session
			t := table{header: []string{"FIELD", "VALUE"}, rows: [][]string{
				{"session", sess.ID.String()},
				{"document_type", string(sess.DocumentType)},
				{"language", string(sess.Language)},
				{"status", string(sess.Status)},
				{"overall_score", formatScore(sess.OverallScore)},
				{"failure_reason", string(sess.FailureReason)},
				{"created_at", formatTime(&sess.CreatedAt)},
				{"completed_at", formatTime(sess.CompletedAt)},
				{"sync_status", string(sess.SyncStatus)},
			}}
			if d := detail.Document; d != nil {
				t.rows = append(t.rows, []string{"document_quality", strconv.FormatFloat(d.QualityScore, 'f', 3, 64)})
			}
			if f := detail.Face; f != nil {
				t.rows = append(t.rows,
					[]string{"liveness_score", strconv.FormatFloat(f.LivenessScore, 'f', 3, 64)},
					[]string{"match_score", formatScore(f.MatchScore)},
				)
			}
			if task := detail.Sync; task != nil {
				t.rows = append(t.rows,
					[]string{"sync_attempts", strconv.Itoa(task.Attempts)},
					[]string{"sync_last_error", task.LastError},
				)
			}
			return write(cmd.OutOrStdout(), rootOpts.Format, detail, t)
		},
	}
}
