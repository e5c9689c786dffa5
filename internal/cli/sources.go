package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jobmate/recommender-service/internal/model"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage job sources",
}

var sourcesListEnabledOnly bool

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sources with their health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(a *app) error {
			sources, err := a.svc.ListSources(cmd.Context(), sourcesListEnabledOnly)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sources)
		})
	},
}

var sourceFlags struct {
	name       string
	sourceType string
	config     string
	configFile string
	disabled   bool
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add <source-id>",
	Short: "Register a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := sourceFromFlags(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			created, err := a.svc.RegisterSource(cmd.Context(), src)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), created)
		})
	},
}

var sourcesUpdateCmd = &cobra.Command{
	Use:   "update <source-id>",
	Short: "Replace a source definition; health is kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := sourceFromFlags(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			updated, err := a.svc.UpdateSource(cmd.Context(), src)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		})
	},
}

func init() {
	sourcesListCmd.Flags().BoolVar(&sourcesListEnabledOnly, "enabled-only", false, "hide disabled sources")

	for _, c := range []*cobra.Command{sourcesAddCmd, sourcesUpdateCmd} {
		f := c.Flags()
		f.StringVar(&sourceFlags.name, "name", "", "display name (defaults to the id)")
		f.StringVar(&sourceFlags.sourceType, "type", string(model.SourceTypeJSONURL), "inline_json or json_url")
		f.StringVar(&sourceFlags.config, "config-value", "", "the URL, or the inline payload")
		f.StringVar(&sourceFlags.configFile, "config-file", "", "read the inline payload from a file")
		f.BoolVar(&sourceFlags.disabled, "disabled", false, "register the source disabled")
		c.MarkFlagsMutuallyExclusive("config-value", "config-file")
	}

	sourcesCmd.AddCommand(sourcesListCmd, sourcesAddCmd, sourcesUpdateCmd)
	rootCmd.AddCommand(sourcesCmd)
}

func sourceFromFlags(id string) (model.JobSource, error) {
	st, err := model.ParseSourceType(sourceFlags.sourceType)
	if err != nil {
		return model.JobSource{}, err
	}
	config := sourceFlags.config
	if sourceFlags.configFile != "" {
		b, err := os.ReadFile(sourceFlags.configFile)
		if err != nil {
			return model.JobSource{}, fmt.Errorf("read config file: %w", err)
		}
		config = string(b)
	}
	return model.JobSource{
		SourceID:   id,
		Name:       sourceFlags.name,
		SourceType: st,
		Config:     config,
		Enabled:    !sourceFlags.disabled,
	}, nil
}

// withApp runs fn against a freshly built app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := buildApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
