package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/output"
	"github.com/dotcommander/lore/internal/rag"
)

// ingestExtensions are the file types picked up when walking a directory.
var ingestExtensions = map[string]bool{
	".md": true, ".markdown": true, ".txt": true, ".rst": true, ".adoc": true,
}

// NewIngestCmd creates the ingest command.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Chunk documents into knowledge items",
		Long:  "Split text documents into chunks and store one item per chunk. Directories are walked for .md, .txt, .rst and .adoc files.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chunkSize, _ := cmd.Flags().GetInt("chunk-size")
			chunkOverlap, _ := cmd.Flags().GetInt("chunk-overlap")
			archive, _ := cmd.Flags().GetBool("archive")
			tags, _ := cmd.Flags().GetStringArray("tag")
			if chunkSize < 0 || chunkOverlap < 0 {
				return cmdErr(apperr.Validation("chunk-size", "chunk sizes must be >= 0"))
			}

			files, err := collectFiles(args)
			if err != nil {
				return cmdErr(err)
			}

			return withService(cmd, func(ctx context.Context, d *deps) error {
				opts := rag.IngestOptions{
					Tags:         tags,
					ChunkSize:    chunkSize,
					ChunkOverlap: chunkOverlap,
					Archive:      archive,
				}
				type docResult struct {
					Path       string `json:"path"`
					Chunks     int    `json:"chunks"`
					Created    int    `json:"created"`
					Duplicates int    `json:"duplicates"`
					ArchiveKey string `json:"archive_key,omitempty"`
				}
				type resp struct {
					Documents []docResult `json:"documents"`
					Chunks    int         `json:"chunks"`
					Created   int         `json:"created"`
				}
				out := resp{Documents: make([]docResult, 0, len(files))}
				for _, path := range files {
					content, err := os.ReadFile(path) //nolint:gosec // user-chosen input path
					if err != nil {
						return fmt.Errorf("read %s: %w", path, err)
					}
					if len(content) > maxInputBytes {
						return apperr.Validation("path", fmt.Sprintf("%s exceeds %d bytes", path, maxInputBytes))
					}
					res, err := d.svc.Ingest(ctx, path, content, opts)
					if err != nil {
						return err
					}
					out.Documents = append(out.Documents, docResult{
						Path:       path,
						Chunks:     res.Chunks,
						Created:    res.Created,
						Duplicates: res.Duplicates,
						ArchiveKey: res.ArchiveKey,
					})
					out.Chunks += res.Chunks
					out.Created += res.Created
				}
				return output.PrintSuccess(out)
			})
		},
	}

	cmd.Flags().Int("chunk-size", 0, "Maximum chunk size in characters (default from config)")
	cmd.Flags().Int("chunk-overlap", 0, "Characters repeated between chunks (default from config)")
	cmd.Flags().Bool("archive", false, "Also store the raw document in the blob archive")
	cmd.Flags().StringArray("tag", nil, "Tag every chunk (repeatable)")
	return cmd
}

// collectFiles expands directories into their ingestible files, sorted.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, apperr.Validation("path", err.Error())
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if ingestExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	if len(files) == 0 {
		return nil, apperr.Validation("path", "no ingestible files found")
	}
	return files, nil
}

// NewBackfillCmd creates the backfill command.
func NewBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Embed items that have no vector from the current model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, _ := cmd.Flags().GetInt("batch")
			all, _ := cmd.Flags().GetBool("all")

			return withService(cmd, func(ctx context.Context, d *deps) error {
				total := &rag.BackfillResult{}
				for {
					res, err := d.svc.Backfill(ctx, batch)
					if err != nil {
						return err
					}
					total.Model = res.Model
					total.Scanned += res.Scanned
					total.Embedded += res.Embedded
					total.Failed += res.Failed
					// Stop when done, or when a pass made no progress.
					if !all || res.Scanned == 0 || res.Embedded == 0 {
						break
					}
				}
				return output.PrintSuccess(total)
			})
		},
	}
	cmd.Flags().Int("batch", rag.DefaultBackfillBatch, "Items per pass")
	cmd.Flags().Bool("all", false, "Repeat passes until nothing is left")
	return cmd
}
