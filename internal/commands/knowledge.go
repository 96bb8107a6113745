package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
	"github.com/dotcommander/lore/internal/output"
)

// maxInputBytes bounds --file and stdin reads.
const maxInputBytes = 4 << 20

// NewAddCmd creates the add command.
func NewAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a knowledge item",
		Long:  "Add a knowledge item. Content comes from --content, --file, or stdin with --file -.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			source, _ := cmd.Flags().GetString("source")
			tags, _ := cmd.Flags().GetStringArray("tag")
			metaPairs, _ := cmd.Flags().GetStringArray("meta")

			content, err := readContent(cmd)
			if err != nil {
				return cmdErr(err)
			}
			meta, err := parseMeta(metaPairs)
			if err != nil {
				return cmdErr(err)
			}

			return withService(cmd, func(ctx context.Context, d *deps) error {
				item, created, err := d.svc.Add(ctx, &models.KnowledgeItem{
					Title:    title,
					Content:  content,
					Source:   source,
					Tags:     tags,
					Metadata: meta,
				})
				if err != nil {
					return err
				}
				type resp struct {
					Created bool                  `json:"created"`
					Item    *models.KnowledgeItem `json:"item"`
				}
				return output.PrintSuccess(resp{Created: created, Item: item})
			})
		},
	}

	cmd.Flags().String("title", "", "Item title (required)")
	cmd.Flags().String("content", "", "Item content")
	cmd.Flags().String("file", "", "Read content from a file (- for stdin)")
	cmd.Flags().String("source", "", "Where the knowledge came from (URL, path)")
	cmd.Flags().StringArray("tag", nil, "Tag (repeatable)")
	cmd.Flags().StringArray("meta", nil, "Metadata key=value (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	cmd.MarkFlagsMutuallyExclusive("content", "file")
	return cmd
}

// NewGetCmd creates the get command.
func NewGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a knowledge item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, d *deps) error {
				item, err := d.svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return output.PrintSuccess(item)
			})
		},
	}
}

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, _ := cmd.Flags().GetString("tag")
			source, _ := cmd.Flags().GetString("source")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			if limit < 0 || offset < 0 {
				return cmdErr(apperr.Validation("limit", "limit and offset must be >= 0"))
			}

			return withService(cmd, func(ctx context.Context, d *deps) error {
				items, total, err := d.svc.List(ctx, models.ListOptions{Tag: tag, Source: source, Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				if items == nil {
					items = []*models.KnowledgeItem{}
				}
				type resp struct {
					Total  int                     `json:"total"`
					Count  int                     `json:"count"`
					Offset int                     `json:"offset"`
					Items  []*models.KnowledgeItem `json:"items"`
				}
				return output.PrintSuccess(resp{Total: total, Count: len(items), Offset: offset, Items: items})
			})
		},
	}

	cmd.Flags().String("tag", "", "Only items carrying this tag")
	cmd.Flags().String("source", "", "Only items with this exact source")
	cmd.Flags().Int("limit", 50, "Maximum items to return")
	cmd.Flags().Int("offset", 0, "Items to skip")
	return cmd
}

// NewUpdateCmd creates the update command.
func NewUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a knowledge item (optimistic, requires --version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, _ := cmd.Flags().GetInt("version")
			if version <= 0 {
				return cmdErr(apperr.Validation("version", "is required (see `lore get`)"))
			}
			f := cmd.Flags()
			var content string
			if f.Changed("content") || f.Changed("file") {
				c, err := readContent(cmd)
				if err != nil {
					return cmdErr(err)
				}
				content = c
			}
			metaPairs, _ := f.GetStringArray("meta")
			meta, err := parseMeta(metaPairs)
			if err != nil {
				return cmdErr(err)
			}

			return withService(cmd, func(ctx context.Context, d *deps) error {
				item, err := d.svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				next := *item
				if f.Changed("title") {
					next.Title, _ = f.GetString("title")
				}
				if f.Changed("content") || f.Changed("file") {
					next.Content = content
				}
				if f.Changed("source") {
					next.Source, _ = f.GetString("source")
				}
				if f.Changed("tag") {
					next.Tags, _ = f.GetStringArray("tag")
				}
				if f.Changed("meta") {
					next.Metadata = meta
				}

				updated, err := d.svc.Update(ctx, &next, version)
				if err != nil {
					return err
				}
				return output.PrintSuccess(updated)
			})
		},
	}

	cmd.Flags().Int("version", 0, "Version the update is based on (required)")
	cmd.Flags().String("title", "", "New title")
	cmd.Flags().String("content", "", "New content")
	cmd.Flags().String("file", "", "Read new content from a file (- for stdin)")
	cmd.Flags().String("source", "", "New source")
	cmd.Flags().StringArray("tag", nil, "Replace tags (repeatable)")
	cmd.Flags().StringArray("meta", nil, "Replace metadata key=value (repeatable)")
	_ = cmd.MarkFlagRequired("version")
	cmd.MarkFlagsMutuallyExclusive("content", "file")
	return cmd
}

// NewDeleteCmd creates the delete command.
func NewDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a knowledge item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, d *deps) error {
				if err := d.svc.Delete(ctx, args[0]); err != nil {
					return err
				}
				type resp struct {
					ID      string `json:"id"`
					Deleted bool   `json:"deleted"`
				}
				return output.PrintSuccess(resp{ID: args[0], Deleted: true})
			})
		},
	}
}

// NewStatsCmd creates the stats command.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, d *deps) error {
				st, err := d.svc.Stats(ctx)
				if err != nil {
					return err
				}
				return output.PrintSuccess(st)
			})
		},
	}
}

// readContent returns --content, or the --file contents ("-" reads stdin).
func readContent(cmd *cobra.Command) (string, error) {
	content, _ := cmd.Flags().GetString("content")
	file, _ := cmd.Flags().GetString("file")
	if file == "" {
		return content, nil
	}

	var r io.Reader
	if file == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(file) //nolint:gosec // user-chosen input path
		if err != nil {
			return "", apperr.Validation("file", err.Error())
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(io.LimitReader(r, maxInputBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", file, err)
	}
	if len(b) > maxInputBytes {
		return "", apperr.Validation("file", fmt.Sprintf("exceeds %d bytes", maxInputBytes))
	}
	return string(b), nil
}

// parseMeta turns ["k=v", ...] into a map.
func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, apperr.Validation("meta", fmt.Sprintf("%q is not key=value", p))
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
