package cli

import (
	"github.com/spf13/cobra"

	"jobmate/recommender-service/internal/auth"
	"jobmate/recommender-service/internal/model"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Issue, list and revoke API tokens",
}

var issueFlags auth.IssueRequest

var tokensIssueCmd = &cobra.Command{
	Use:   "issue <name>",
	Short: "Issue a token; the key is printed once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := issueFlags
		req.Name = args[0]
		return withApp(cmd, func(a *app) error {
			issued, err := a.svc.IssueToken(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), issued)
		})
	},
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(a *app) error {
			tokens, err := a.svc.ListTokens(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tokens)
		})
	},
}

var tokensRevokeCmd = &cobra.Command{
	Use:   "revoke <token-id>",
	Short: "Revoke a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			tok, err := a.svc.RevokeToken(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tok)
		})
	},
}

var auditFilter model.AuditFilter

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent audit events, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(a *app) error {
			events, err := a.svc.ListAuditEvents(cmd.Context(), auditFilter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), events)
		})
	},
}

func init() {
	f := tokensIssueCmd.Flags()
	f.StringSliceVar(&issueFlags.Scopes, "scope", nil, "scope to grant: write, scan, admin, audit or *")
	f.IntVar(&issueFlags.ExpiresInDays, "expires-in-days", 0, "days until the token expires; 0 never expires")
	f.StringVar(&issueFlags.Notes, "notes", "", "free-form notes kept with the token")
	_ = tokensIssueCmd.MarkFlagRequired("scope")

	tokensCmd.AddCommand(tokensIssueCmd, tokensListCmd, tokensRevokeCmd)
	rootCmd.AddCommand(tokensCmd)

	af := auditCmd.Flags()
	af.StringVar(&auditFilter.Action, "action", "", "only this operation, e.g. scan_all")
	af.StringVar((*string)(&auditFilter.Status), "status", "", "only this outcome: ok, unauthorized, forbidden, rejected, error")
	af.IntVar(&auditFilter.Limit, "limit", 0, "maximum events to show")
	rootCmd.AddCommand(auditCmd)
}
