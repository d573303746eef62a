// Package sync scans every registered source and imports its entries.
package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/knolbase/internal/collection"
	"github.com/conorfennell/knolbase/internal/gitsource"
	"github.com/conorfennell/knolbase/internal/importer"
	"github.com/conorfennell/knolbase/internal/parser"
	"github.com/conorfennell/knolbase/internal/storage"
)

// Report sums the imports of one run.
type Report struct {
	Sources int
	Failed  int
	importer.Stats
}

// RunSync refreshes repository sources under reposDir and reconciles every
// source with the collection. A failing source is logged and skipped.
func RunSync(ctx context.Context, col *collection.Collection, im *importer.Importer, reposDir string) (Report, error) {
	var report Report
	slog.Info("starting sync for all sources")
	sources, err := col.Sources(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to get sources: %w", err)
	}
	if len(sources) == 0 {
		slog.Info("no sources configured, add one with --add-source <path/or/url.git>")
		return report, nil
	}
	if err := os.MkdirAll(reposDir, 0o755); err != nil {
		return report, fmt.Errorf("failed to create repos directory: %w", err)
	}

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Sources++
		stats, err := syncSource(ctx, im, source, reposDir)
		if err != nil {
			report.Failed++
			slog.Error("failed to sync source", "id", source.ID, "path", source.Path, "error", err)
			continue
		}
		report.Added += stats.Added
		report.Existing += stats.Existing
		report.Duplicates += stats.Duplicates
		report.Empty += stats.Empty
		report.Removed += stats.Removed
	}
	slog.Info("sync complete", "sources", report.Sources, "failed", report.Failed,
		"added", report.Added, "removed", report.Removed)
	return report, nil
}

func syncSource(ctx context.Context, im *importer.Importer, source storage.Source, reposDir string) (importer.Stats, error) {
	slog.Info("syncing source", "id", source.ID, "git", source.IsGit(), "path", source.Path)
	dir := source.Path
	if source.IsGit() {
		local, err := gitsource.LocalPath(reposDir, source.Path)
		if err != nil {
			return importer.Stats{}, err
		}
		if err := gitsource.Sync(ctx, source.Path, local); err != nil {
			return importer.Stats{}, err
		}
		dir = local
	}
	entries, err := ScanDir(dir)
	if err != nil {
		return importer.Stats{}, err
	}
	return im.Import(ctx, source, entries)
}

// ScanDir parses every markdown file under dir. Files that fail to parse
// are logged and skipped; their entries count as gone.
func ScanDir(dir string) ([]parser.Entry, error) {
	var entries []parser.Entry
	var parseErrors int
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		fileEntries, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			parseErrors++
			slog.Warn("failed to parse file", "path", path, "error", parseErr)
			return nil
		}
		entries = append(entries, fileEntries...)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("error walking directory %s: %w", dir, walkErr)
	}
	slog.Debug("directory scanned", "path", dir, "entries", len(entries), "errors", parseErrors)
	return entries, nil
}
