package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/modelgate/modelgate/internal/process"
	"github.com/modelgate/modelgate/internal/usagedb"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway service status",
	Long:  `Display the current status of the LLM gateway service.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	procMgr := process.NewManager(baseDir)
	cfg := cfgMgr.Get()

	running := procMgr.IsRunning()
	pid := procMgr.ReadPID()
	refs := procMgr.ReadRef()

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-16s: %v\n", "Running", running)
	fmt.Printf("  %-16s: %d\n", "PID", pid)

	if cfg != nil {
		fmt.Printf("  %-16s: %s\n", "Host", cfg.Host)
		fmt.Printf("  %-16s: %d\n", "Port", cfg.Port)
		fmt.Printf("  %-16s: %s\n", "Endpoint", fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port))
		fmt.Printf("  %-16s: %s\n", "Default Provider", orUnset(cfg.DefaultProvider))
		fmt.Printf("  %-16s: %s\n", "Providers File", orUnset(cfg.ProvidersFile))
		fmt.Printf("  %-16s: %s\n", "Usage DB", orUnset(cfg.UsageDB))
	}

	fmt.Printf("  %-16s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-16s: %d\n", "References", refs)
	fmt.Printf("  %-16s: v%s\n", "Version", Version)

	if cfg != nil && cfg.UsageDB != "" {
		printUsage(cfg.UsageDB)
	}
}

func printUsage(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	store, err := usagedb.Open(path)
	if err != nil {
		color.Yellow("Usage DB unavailable: %v", err)
		return
	}

	usage, err := store.UsageByProvider(time.Time{})
	if err != nil || len(usage) == 0 {
		return
	}

	color.Blue("\nUsage by provider:")
	for _, u := range usage {
		fmt.Printf("  %-16s: %d requests, %d in / %d out tokens\n",
			u.ProviderType, u.Requests, u.InputTokens, u.OutputTokens)
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
