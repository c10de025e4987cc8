package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatrelay/internal/batch"
	"chatrelay/internal/provider"
)

func generateCmd() *cobra.Command {
	var (
		issues      string
		tone        string
		promptsPath string
		outPath     string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Batch-generate review comments through the inference backend",
		Long: `Runs every language's prompt templates from the prompts file through the
inference backend, substituting the given issues and tone, and writes the
collected comments to a CSV file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := newStore()
			cfg, err := store.Get()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			prompts, err := batch.LoadPrompts(promptsPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gen := batch.New(provider.NewOllama(logger), logger)
			if err := gen.WaitForServer(ctx, cfg.InferenceEndpoint); err != nil {
				return err
			}

			table, err := gen.Run(ctx, cfg, prompts, batch.Params{Issues: issues, Tone: tone})
			if err != nil {
				return err
			}
			if err := table.WriteFile(outPath); err != nil {
				return fmt.Errorf("write output: %w", err)
			}

			logger.Info("comments written", "rows", len(table.Rows), "file", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&issues, "issues", "", "comma-separated list of issues to address in comments")
	cmd.Flags().StringVar(&tone, "tone", "", "tone and mood for the comments")
	cmd.Flags().StringVar(&promptsPath, "prompts", "prompts.yaml", "path to the prompts YAML file")
	cmd.Flags().StringVar(&outPath, "out", "comments.csv", "path of the CSV file to write")
	cmd.MarkFlagRequired("issues")
	cmd.MarkFlagRequired("tone")

	return cmd
}
