package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chatrelay/internal/config"
	"chatrelay/internal/provider"
)

var (
	passMark = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	warnMark = color.New(color.FgYellow).SprintFunc()
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your chatrelay setup",
		Long: `Verifies that the configuration file, the Chatwoot credentials, the
inference backend, and the listening port are usable. Reports pass/fail
for each check.`,
		RunE: runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("chatrelay doctor v%s\n", version)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	passed, failed, warned := 0, 0, 0

	// 1. Config file exists.
	if _, err := os.Stat(envFile); err != nil {
		printWarn("Config file", fmt.Sprintf("not found at %s (process env only)", envFile))
		warned++
	} else {
		printPass("Config file", envFile)
		passed++
	}

	// 2. Config loads and validates.
	store := newStore()
	cfg, err := store.Get()
	if err != nil {
		printFail("Config validation", err.Error())
		failed++
		fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
		return fmt.Errorf("1 check failed")
	}
	printPass("Config validation", "valid")
	passed++

	// 3. Chat platform credentials.
	if err := cfg.RequireCredentials(); err != nil {
		printFail("Chatwoot credentials", err.Error())
		failed++
	} else {
		printPass("Chatwoot credentials", config.MaskSecret(cfg.APIToken))
		passed++
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 4. Inference backend reachable.
	ollama := provider.NewOllama(logger)
	if err := ollama.Healthy(ctx, cfg.InferenceEndpoint); err != nil {
		printFail("Inference backend", err.Error())
		failed++
	} else {
		printPass("Inference backend", cfg.InferenceEndpoint)
		passed++
	}

	// 5. Chat platform reachable.
	if cfg.BaseURL != "" {
		if err := checkReachable(ctx, cfg.BaseURL); err != nil {
			printWarn("Chatwoot endpoint", err.Error())
			warned++
		} else {
			printPass("Chatwoot endpoint", cfg.BaseURL)
			passed++
		}
	}

	// 6. Listening port available.
	if err := checkPort(cfg.Port); err != nil {
		printWarn("Webhook port", fmt.Sprintf("port %d may be in use: %v", cfg.Port, err))
		warned++
	} else {
		printPass("Webhook port", fmt.Sprintf(":%d available", cfg.Port))
		passed++
	}

	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
	if failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running chatrelay serve.\n")
		return fmt.Errorf("%d check(s) failed", failed)
	}
	if warned > 0 {
		fmt.Printf("\nchatrelay should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! chatrelay is ready to run.\n")
	}
	return nil
}

func checkReachable(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("not reachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("returned status %d", resp.StatusCode)
	}
	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [%s] %-22s %s\n", passMark("PASS"), check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [%s] %-22s %s\n", failMark("FAIL"), check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [%s] %-22s %s\n", warnMark("WARN"), check, detail)
}
