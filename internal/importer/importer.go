// Package importer loads catalog items from per-source JSON files and
// reconciles preview blobs from database fixture dumps.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/catalog"
)

// Importer writes imported items through the catalog's item store.
type Importer struct {
	items  catalog.ItemStore
	logger *zap.Logger
}

// New builds an Importer.
func New(items catalog.ItemStore, logger *zap.Logger) *Importer {
	return &Importer{items: items, logger: logger}
}

// FileSummary reports the outcome of importing one JSON file.
type FileSummary struct {
	Path    string `json:"path"`
	Source  string `json:"source"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Errors  int    `json:"errors"`
}

// Summary aggregates the outcome across all processed files.
type Summary struct {
	Files   []FileSummary `json:"files"`
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Errors  int           `json:"errors"`
}

// sourceEntry is the on-disk shape of one item in a per-source JSON file.
// The file maps stringified external ids to these entries.
type sourceEntry struct {
	Situation  string   `json:"SITUATION"`
	Titles     []string `json:"TITLE"`
	Characters []string `json:"CHARACTER"`
	Artist     string   `json:"ARTIST"`
	Link       string   `json:"LINK"`
	Tags       []string `json:"TAG"`
}

// ImportDir imports every *.json file in dir. The source tag of each item is
// the file's base name without extension. Duplicate paths resolving to the
// same file are processed once.
func (im *Importer) ImportDir(ctx context.Context, dir string) (Summary, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return Summary{}, fmt.Errorf("glob %s: %w", dir, err)
	}
	seen := make(map[string]struct{}, len(matches))
	var summary Summary
	for _, path := range matches {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			resolved = path
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}

		fileSummary, err := im.ImportFile(ctx, path)
		if err != nil {
			im.logger.Error("file import failed", zap.String("path", path), zap.Error(err))
			summary.Errors++
			continue
		}
		summary.Files = append(summary.Files, fileSummary)
		summary.Created += fileSummary.Created
		summary.Updated += fileSummary.Updated
		summary.Errors += fileSummary.Errors
	}
	if len(matches) == 0 {
		im.logger.Warn("no JSON files found", zap.String("dir", dir))
	}
	return summary, nil
}

// ImportFile imports one per-source JSON file idempotently. Entries are
// upserted keyed by (external_id, source); a malformed entry is counted and
// skipped, not fatal.
func (im *Importer) ImportFile(ctx context.Context, path string) (FileSummary, error) {
	source := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	summary := FileSummary{Path: path, Source: source}

	raw, err := os.ReadFile(path)
	if err != nil {
		return summary, fmt.Errorf("read %s: %w", path, err)
	}
	var entries map[string]sourceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return summary, fmt.Errorf("parse %s: %w", path, err)
	}

	// Stable iteration keeps logs and error counts reproducible.
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry := entries[key]
		externalID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			im.logger.Warn("skipping entry with non-numeric key",
				zap.String("path", path), zap.String("key", key))
			summary.Errors++
			continue
		}
		item := catalog.Item{
			ExternalID: externalID,
			Source:     source,
			Situation:  entry.Situation,
			Titles:     entry.Titles,
			Characters: entry.Characters,
			Artist:     entry.Artist,
			Link:       entry.Link,
			Tags:       entry.Tags,
		}
		created, err := im.items.UpsertItem(ctx, item)
		if err != nil {
			im.logger.Warn("entry import failed",
				zap.String("path", path), zap.String("key", key), zap.Error(err))
			summary.Errors++
			continue
		}
		if created {
			summary.Created++
		} else {
			summary.Updated++
		}
	}
	return summary, nil
}
