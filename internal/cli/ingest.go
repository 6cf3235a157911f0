package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"regchat/internal/config"
	"regchat/internal/ingest"
)

const defaultPattern = "**/*.{pdf,PDF}"

type ingestOptions struct {
	file           string
	pdfDir         string
	processedDir   string
	chunkSize      int
	chunkOverlap   int
	embeddingModel string
	pattern        string
	skipProcessed  bool
}

// bindIngestFlags registers the flags shared by ingest and watch.
func bindIngestFlags(cmd *cobra.Command, o *ingestOptions) {
	f := cmd.Flags()
	f.StringVar(&o.pdfDir, "pdf-dir", "", "directory containing PDF files (default RAW_DATA_DIR)")
	f.StringVar(&o.processedDir, "processed-dir", "", "directory for chunk artifacts (default PROCESSED_DATA_DIR)")
	f.IntVar(&o.chunkSize, "chunk-size", 0, "chunk size in characters (default CHUNK_SIZE)")
	f.IntVar(&o.chunkOverlap, "chunk-overlap", -1, "overlap between chunks (default CHUNK_OVERLAP)")
	f.StringVar(&o.embeddingModel, "embedding-model", "", "embedding model (default EMBEDDING_MODEL_NAME)")
	f.StringVar(&o.pattern, "pattern", defaultPattern, "glob of files to ingest, relative to --pdf-dir")
	f.BoolVar(&o.skipProcessed, "skip-processed", false, "skip documents that already have an artifact")
}

func (o *ingestOptions) apply(cfg *config.Config) {
	if o.pdfDir != "" {
		cfg.RawDataDir = o.pdfDir
	}
	if o.processedDir != "" {
		cfg.ProcessedDataDir = o.processedDir
	}
	if o.chunkSize > 0 {
		cfg.ChunkSize = o.chunkSize
	}
	if o.chunkOverlap >= 0 {
		cfg.ChunkOverlap = o.chunkOverlap
	}
	if o.embeddingModel != "" {
		cfg.EmbeddingModelName = o.embeddingModel
	}
}

func newIngestCmd(load ConfigLoader, open Opener) *cobra.Command {
	o := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk and index PDF documents",
		Long: `Extracts, chunks and indexes every PDF under --pdf-dir matching --pattern,
or only --file. Re-ingesting a document replaces its previous chunks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, rt, err := setup(cmd, load, open, o.apply)
			if err != nil {
				return err
			}
			defer rt.Close()
			return runIngest(cmd, rt.Ingest, cfg, o)
		},
	}
	bindIngestFlags(cmd, o)
	cmd.Flags().StringVar(&o.file, "file", "", "process a single file, relative to --pdf-dir")
	return cmd
}

func runIngest(cmd *cobra.Command, ing Ingester, cfg *config.Config, o *ingestOptions) error {
	ctx := cmd.Context()
	cmd.Printf("Chunking with size %d and overlap %d\n", cfg.ChunkSize, cfg.ChunkOverlap)

	var files []string
	if o.file != "" {
		path := filepath.Join(cfg.RawDataDir, o.file)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("file %s not found in %s", o.file, cfg.RawDataDir)
		}
		files = []string{path}
	} else {
		var err error
		if files, err = discover(cfg.RawDataDir, o.pattern); err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no PDF files matching %q in %s", o.pattern, cfg.RawDataDir)
		}
		cmd.Printf("Processing %d files in %s\n", len(files), cfg.RawDataDir)
	}

	ids, err := documentIDs(cfg.RawDataDir, files)
	if err != nil {
		return err
	}

	var total, done, skipped int
	var failed []string
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := ingestOne(ctx, ing, path, ids[i], o.skipProcessed)
		switch {
		case errors.Is(err, errSkipped):
			skipped++
			cmd.Printf("  - %s (already processed)\n", filepath.Base(path))
		case err != nil:
			failed = append(failed, filepath.Base(path))
			cmd.Printf("  x %s: %v\n", filepath.Base(path), err)
		default:
			done++
			total += n
			cmd.Printf("  + %s: %d chunks\n", filepath.Base(path), n)
		}
	}

	cmd.Printf("Indexed %d chunks from %d files", total, done)
	if skipped > 0 {
		cmd.Printf(", skipped %d", skipped)
	}
	cmd.Println()
	cmd.Printf("Artifacts in %s\n", cfg.ProcessedDataDir)

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d files failed: %v", len(failed), len(files), failed)
	}
	return nil
}

var errSkipped = errors.New("already processed")

func ingestOne(ctx context.Context, ing Ingester, path, documentID string, skipProcessed bool) (int, error) {
	if skipProcessed && ing.IsProcessed(ctx, documentID) {
		return 0, errSkipped
	}
	return ing.IngestFile(ctx, path, documentID)
}

// documentID names a file by its path relative to dir, so equal base names
// in different subdirectories stay separate documents.
func documentID(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	return ingest.DocumentID(rel)
}

// documentIDs maps files to ids and fails when two files share one.
func documentIDs(dir string, files []string) ([]string, error) {
	ids := make([]string, len(files))
	owner := make(map[string]string, len(files))
	var clashes []string
	for i, path := range files {
		id := documentID(dir, path)
		if prev, ok := owner[id]; ok {
			clashes = append(clashes, fmt.Sprintf("%s and %s -> %s", prev, path, id))
			continue
		}
		owner[id] = path
		ids[i] = id
	}
	if len(clashes) > 0 {
		return nil, fmt.Errorf("document id collision: %s", strings.Join(clashes, "; "))
	}
	return ids, nil
}

// discover lists files under dir matching pattern, sorted.
func discover(dir, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(matches)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.Join(dir, filepath.FromSlash(m))
	}
	return out, nil
}
