package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
	"github.com/dotcommander/lore/internal/output"
	"github.com/dotcommander/lore/internal/rag"
)

// NewSearchCmd creates the search command.
func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank knowledge items against a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := searchFlags(cmd)
			if err != nil {
				return cmdErr(err)
			}
			withPrompt, _ := cmd.Flags().GetBool("prompt")

			return withService(cmd, func(ctx context.Context, d *deps) error {
				rc, err := d.svc.Retrieve(ctx, strings.Join(args, " "), opts)
				if err != nil {
					return err
				}
				if !withPrompt {
					rc.Prompt = ""
				}
				return output.PrintSuccess(rc)
			})
		},
	}
	addSearchFlags(cmd)
	cmd.Flags().Bool("prompt", false, "Include the assembled context block")
	return cmd
}

// NewAskCmd creates the ask command.
func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := searchFlags(cmd)
			if err != nil {
				return cmdErr(err)
			}
			includeContext, _ := cmd.Flags().GetBool("context")
			historyPath, _ := cmd.Flags().GetString("history")
			history, err := readHistory(historyPath)
			if err != nil {
				return cmdErr(err)
			}

			return withService(cmd, func(ctx context.Context, d *deps) error {
				ans, err := d.svc.Ask(ctx, strings.Join(args, " "), history, rag.AskOptions{
					Search:         opts,
					IncludeContext: includeContext,
				})
				if err != nil {
					return err
				}
				return output.PrintSuccess(ans)
			})
		},
	}
	addSearchFlags(cmd)
	cmd.Flags().Bool("context", false, "Include the retrieved context in the answer")
	cmd.Flags().String("history", "", "JSON file with prior chat turns: [{\"role\":\"user\",\"content\":\"...\"}]")
	return cmd
}

func addSearchFlags(cmd *cobra.Command) {
	cmd.Flags().Int("top-k", 0, "Items to retrieve (default from config)")
	cmd.Flags().Float64("min-score", 0, "Minimum relevance score 0..1 (default from config)")
	cmd.Flags().StringArray("tag", nil, "Only items carrying this tag (repeatable)")
}

func searchFlags(cmd *cobra.Command) (models.SearchOptions, error) {
	topK, _ := cmd.Flags().GetInt("top-k")
	minScore, _ := cmd.Flags().GetFloat64("min-score")
	tags, _ := cmd.Flags().GetStringArray("tag")
	if topK < 0 {
		return models.SearchOptions{}, apperr.Validation("top-k", "must be >= 0")
	}
	if minScore < 0 || minScore > 1 {
		return models.SearchOptions{}, apperr.Validation("min-score", "must be between 0 and 1")
	}
	return models.SearchOptions{TopK: topK, MinScore: minScore, Tags: tags}, nil
}

func readHistory(path string) ([]models.ChatMessage, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path) //nolint:gosec // user-chosen input path
	if err != nil {
		return nil, apperr.Validation("history", err.Error())
	}
	var history []models.ChatMessage
	if err := json.Unmarshal(b, &history); err != nil {
		return nil, apperr.Validation("history", fmt.Sprintf("decode %s: %v", path, err))
	}
	return history, nil
}
