package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tollgate/internal/config"
	"github.com/nextlevelbuilder/tollgate/internal/sandbox"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("tollgate doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (using defaults — file not found)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	fmt.Printf("    %-12s %s\n", "Mode:", cfg.Database.Mode)
	if cfg.Database.Mode == "postgres" && cfg.Database.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
		if err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
			} else {
				fmt.Printf("    %-12s OK\n", "Status:")
			}
			db.Close()
		}
	} else {
		path := config.ExpandHome(cfg.Database.SQLitePath)
		fmt.Printf("    %-12s %s", "SQLite:", path)
		if _, err := os.Stat(path); err != nil {
			fmt.Println(" (not yet created — will be created on first run)")
		} else {
			fmt.Println(" (OK)")
		}
	}

	fmt.Println()
	fmt.Println("  Anthropic:")
	checkSecret("API key", cfg.Anthropic.APIKey)

	fmt.Println()
	fmt.Println("  Telegram:")
	checkChannel("Telegram", cfg.Telegram.Enabled, cfg.Telegram.Token != "")

	fmt.Println()
	fmt.Println("  Tools:")
	checkSecret("Transcribe key", cfg.Tools.Transcribe.APIKey)
	checkSecret("Image-gen key", cfg.Tools.ImageGen.APIKey)
	checkSecret("LaTeX key", cfg.Tools.Latex.APIKey)

	fmt.Println()
	fmt.Println("  Sandbox:")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sandbox.CheckDockerAvailable(ctx); err != nil {
		fmt.Printf("    %-12s NOT AVAILABLE (%s)\n", "Docker:", err)
	} else {
		fmt.Printf("    %-12s OK (image: %s)\n", "Docker:", cfg.Sandbox.Image)
	}

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("docker")
	checkBinary("curl")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-16s (not configured)\n", name+":")
		return
	}
	masked := apiKey
	if len(apiKey) > 8 {
		masked = apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
	}
	fmt.Printf("    %-16s %s\n", name+":", masked)
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
