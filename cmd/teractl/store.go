package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tfiber/tera-assist/internal/config"
	"github.com/tfiber/tera-assist/internal/store"
)

func openStore(cfg *config.Config) (store.Repository, func(), error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return repo, func() {
		if err := repo.Close(); err != nil {
			slog.Error("Failed to close repository", "error", err)
		}
	}, nil
}

func newHistoryCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the stored messages of a session's conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeRepo, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeRepo()

			ctx := cmd.Context()
			conv, err := repo.GetConversationBySession(ctx, args[0])
			if err != nil {
				return err
			}
			if conv == nil {
				return fmt.Errorf("no conversation for session %q", args[0])
			}

			msgs, err := repo.ListMessages(ctx, conv.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			lead := "-"
			if conv.HasLead() {
				lead = fmt.Sprint(*conv.LeadID)
			}
			fmt.Fprintf(out, "conversation %d  started %s  language %s  lead %s\n",
				conv.ID, conv.StartedAt.Format(time.RFC3339), conv.InitialLanguage, lead)
			for _, m := range msgs {
				marker := ""
				if m.IsEligibilityResult && m.Eligibility != nil {
					marker = fmt.Sprintf(" [eligible=%t]", m.Eligibility.IsEligible)
				}
				fmt.Fprintf(out, "%s  %-4s %s%s\n", m.Timestamp.Format("15:04:05.000"), m.Sender, m.Content, marker)
			}
			return nil
		},
	}
}

func newLeadsCommand(cfg *config.Config) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "leads",
		Short: "List the most recently updated leads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, closeRepo, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeRepo()

			leads, err := repo.ListLeads(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPHONE\tLANG\tUPDATED")
			for _, l := range leads {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", l.ID, l.Name, l.PhoneNumber, l.LanguagePreference, l.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of leads to list")
	return cmd
}
