package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tollgate/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the gateway's effective configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (defaults + file + env), secrets redacted",
		Run: func(cmd *cobra.Command, args []string) {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				fmt.Printf("config load error: %s\n", err)
				os.Exit(1)
			}
			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				fmt.Printf("could not render config: %s\n", err)
				os.Exit(1)
			}
			fmt.Println(string(out))
			fmt.Printf("# hash: %s\n", cfg.Hash())
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report errors without starting the gateway",
		Run: func(cmd *cobra.Command, args []string) {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				fmt.Printf("FAIL: %s\n", err)
				os.Exit(1)
			}
			if _, ok := cfg.Models.Entries[cfg.Models.Default]; !ok {
				fmt.Printf("FAIL: default model %q not found in model registry\n", cfg.Models.Default)
				os.Exit(1)
			}
			fmt.Printf("OK: %s loads cleanly (hash %s)\n", cfgPath, cfg.Hash())
		},
	}
}
