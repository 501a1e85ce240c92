// Package cli implements kycctl, the operator CLI over the device record store.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"kycflow/internal/verification/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Database string
	Format   string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the kycctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "kycctl",
		Short: "Inspect verification sessions and the sync queue",
		Long:  "kycctl reads the local verification record store and re-activates parked uploads.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "./data/kyc.db", "path to the record store")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSessionsCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))

	return cmd
}

func (o *RootOptions) open(cmd *cobra.Command) (*store.SQLite, error) {
	s, err := store.OpenSQLite(cmd.Context(), o.Database)
	if err != nil {
		return nil, fmt.Errorf("open record store %s: %w", o.Database, err)
	}
	return s, nil
}
