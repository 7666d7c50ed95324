package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/modelgate/modelgate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the LLM gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for gateway and provider details.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration and the provider pool document.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	color.Blue("ModelGate Configuration Setup")
	color.Yellow("Follow the prompts to configure the gateway.")

	reader := bufio.NewReader(os.Stdin)

	prompt := func(label string) string {
		fmt.Printf("%s: ", label)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line)
	}

	providersFile := prompt("\nProvider pool file (JSON or YAML)")
	defaultProvider := prompt("Default provider type (e.g., openai-custom, claude-custom)")
	gatewayKey := prompt("Gateway API key (optional, for client authentication)")
	usageDB := prompt("Usage database path (optional, SQLite file)")

	cfg := &config.Config{
		Host:            config.DefaultHost,
		Port:            config.DefaultPort,
		APIKey:          gatewayKey,
		DefaultProvider: defaultProvider,
		ProvidersFile:   providersFile,
		UsageDB:         usageDB,
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the gateway with: %s start", AppName)

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run '%s config init' to create one.", AppName)
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-18s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-18s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-18s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-18s: %s\n", "Default Provider", orUnset(cfg.DefaultProvider))
	fmt.Printf("  %-18s: %s\n", "Providers File", orUnset(cfg.ProvidersFile))
	fmt.Printf("  %-18s: %s\n", "Models File", orUnset(cfg.ModelsFile))
	fmt.Printf("  %-18s: %s\n", "Usage DB", orUnset(cfg.UsageDB))
	fmt.Printf("  %-18s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Println("\nRetry:")
	fmt.Printf("  %-18s: %d\n", "Max Retries", cfg.Retry.MaxRetries)
	fmt.Printf("  %-18s: %s\n", "Base Delay", cfg.Retry.BaseDelay())

	if cfg.SystemPrompt.File != "" {
		fmt.Println("\nSystem Prompt:")
		fmt.Printf("  %-18s: %s\n", "File", cfg.SystemPrompt.File)
		fmt.Printf("  %-18s: %s\n", "Mode", cfg.SystemPrompt.Mode)
	}

	if cfg.ConversationLog.Mode != "" && cfg.ConversationLog.Mode != "none" {
		fmt.Println("\nConversation Log:")
		fmt.Printf("  %-18s: %s\n", "Mode", cfg.ConversationLog.Mode)
		fmt.Printf("  %-18s: %s\n", "Dir", orUnset(cfg.ConversationLog.Dir))
	}

	if cfg.ProvidersFile != "" {
		pools, err := config.LoadProviderPools(cfg.ProvidersFile)
		if err != nil {
			color.Red("\nProvider pools: failed to load (%v)", err)
			return nil
		}
		fmt.Println("\nProvider Pools:")
		for providerType, creds := range pools {
			fmt.Printf("  - Type: %s\n", providerType)
			for _, c := range creds {
				name := c.Name
				if name == "" {
					name = c.UUID
				}
				fmt.Printf("    %s (key: %s, disabled: %v)\n", name, maskString(c.APIKey), c.Disabled)
			}
		}
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var problems []string

	if cfg.ProvidersFile == "" {
		problems = append(problems, "no provider pool file configured")
	} else {
		pools, err := config.LoadProviderPools(cfg.ProvidersFile)
		if err != nil {
			problems = append(problems, fmt.Sprintf("provider pool file: %v", err))
		} else {
			if len(pools) == 0 {
				problems = append(problems, "provider pool file defines no providers")
			}
			for providerType, creds := range pools {
				enabled := 0
				for _, c := range creds {
					if c.APIKey == "" && c.OAuthFile == "" {
						problems = append(problems,
							fmt.Sprintf("%s: credential %q has neither api key nor oauth file", providerType, c.Name))
					}
					if !c.Disabled {
						enabled++
					}
				}
				if enabled == 0 {
					problems = append(problems, fmt.Sprintf("%s: all credentials are disabled", providerType))
				}
			}
			if cfg.DefaultProvider != "" {
				if _, ok := pools[cfg.DefaultProvider]; !ok {
					problems = append(problems,
						fmt.Sprintf("default provider %q has no pool", cfg.DefaultProvider))
				}
			}
		}
	}

	if cfg.SystemPrompt.File != "" {
		if _, err := cfg.ReadSystemPrompt(); err != nil {
			problems = append(problems, fmt.Sprintf("system prompt: %v", err))
		}
	}

	if len(problems) > 0 {
		color.Red("Configuration validation failed:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("configuration validation failed")
	}

	color.Green("Configuration is valid!")
	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
