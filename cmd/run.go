package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/modelgate/modelgate/internal/process"
)

var runCmd = &cobra.Command{
	Use:   "run <command> [args...]",
	Short: "Execute a client tool via the gateway",
	Long: `Start the gateway service if needed and execute the given command with
its OpenAI, Anthropic, and Gemini endpoints pointed at the gateway.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runThroughGateway,
}

func runThroughGateway(cmd *cobra.Command, args []string) error {
	procMgr := process.NewManager(baseDir)
	cfg := cfgMgr.Get()

	serviceStartedByUs, err := procMgr.StartServiceIfNeeded()
	if err != nil {
		return err
	}

	endpoint := "http://" + cfg.Host + ":" + strconv.Itoa(cfg.Port)

	env := os.Environ()
	for _, key := range []string{
		"OPENAI_API_KEY", "OPENAI_BASE_URL",
		"ANTHROPIC_API_KEY", "ANTHROPIC_AUTH_TOKEN", "ANTHROPIC_BASE_URL",
		"GOOGLE_GEMINI_BASE_URL", "GEMINI_API_KEY",
	} {
		env = filterEnv(env, key)
	}

	key := cfg.APIKey
	if key == "" {
		key = "gateway"
	}

	env = append(env,
		"OPENAI_API_KEY="+key,
		"OPENAI_BASE_URL="+endpoint+"/v1",
		"ANTHROPIC_API_KEY="+key,
		"ANTHROPIC_BASE_URL="+endpoint,
		"GEMINI_API_KEY="+key,
		"GOOGLE_GEMINI_BASE_URL="+endpoint,
		"API_TIMEOUT_MS=600000",
	)

	procMgr.IncrementRef()
	defer func() {
		procMgr.DecrementRef()
		// Only stop the service if we started it and nothing else uses it.
		if serviceStartedByUs && procMgr.ReadRef() == 0 {
			color.Yellow("No more active sessions, stopping auto-started service...")
			if err := procMgr.Stop(); err != nil {
				fmt.Printf("Warning: failed to stop service: %v\n", err)
			}
		}
	}()

	clientCmd := exec.Command(args[0], args[1:]...)
	clientCmd.Env = env
	clientCmd.Stdin = os.Stdin
	clientCmd.Stdout = os.Stdout
	clientCmd.Stderr = os.Stderr

	return clientCmd.Run()
}

func filterEnv(env []string, key string) []string {
	var filtered []string
	prefix := key + "="
	for _, e := range env {
		if !strings.HasPrefix(e, prefix) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
