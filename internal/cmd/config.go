package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxorio/callcenter/internal/settings"
	"github.com/fluxorio/callcenter/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the engine configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default engine configuration file",
	Long: `Write a default engine configuration file. The format follows the
extension: .json writes JSON, anything else YAML.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Show the normalized engine configuration",
	Long: `Load the engine configuration the way the server does, apply the
limits and print the resulting values together with any corrections.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
}

func enginePath(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	if p := viper.GetString("engine_config"); p != "" {
		return p
	}
	return settings.Default().EngineConfig
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := enginePath(args)
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := config.Save(path, config.DefaultRaw()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path := enginePath(args)
	raw, err := config.NewFileSource(path, "").Load()
	if err != nil {
		return err
	}
	draft, err := config.NewDraft(raw, config.DefaultLimits())
	if err != nil {
		return err
	}
	draft.NormalizeData()
	fixed := draft.Corrections()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Engine configuration: %s\n\n", path)
	fmt.Fprintf(out, "  operators  %d\n", draft.Operators)
	fmt.Fprintf(out, "  queue      %d\n", draft.QueueSize)
	fmt.Fprintf(out, "  duration   [%d, %d]\n", draft.Min, draft.Max)
	if fixed.Any() {
		fmt.Fprintf(out, "\nCorrected: operators=%t queue=%t bounds=%t\n", fixed.Operators, fixed.Queue, fixed.Bounds)
	}
	return nil
}
