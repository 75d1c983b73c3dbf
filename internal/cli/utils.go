// Package cli provides CLI output formatting for Kagami.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/pkg/utils"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputCompact is one tab-separated line per hit: rank, score, path.
	OutputCompact SearchOutputFormat = "compact"
	// OutputJSON is the same JSON the HTTP API returns.
	OutputJSON SearchOutputFormat = "json"
)

// maxQueryEcho bounds how much of the query is repeated in text output.
const maxQueryEcho = 60

// ParseOutputFormat returns the format named s, or an error listing the valid ones.
func ParseOutputFormat(s string) (SearchOutputFormat, error) {
	switch f := SearchOutputFormat(s); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text, compact or json)", s)
	}
}

// WriteSearchResults writes hits for query to w in the given format.
// Unknown formats are written as text.
func WriteSearchResults(w io.Writer, query string, hits []models.SearchHit, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(models.SearchResponse{Results: models.ToItems(hits)})
	case OutputCompact:
		for _, h := range hits {
			if _, err := fmt.Fprintf(w, "%d\t%.4f\t%s\n", h.Rank, h.Score, h.Path); err != nil {
				return err
			}
		}
		return nil
	default:
		return writeSearchResultsText(w, query, hits)
	}
}

func writeSearchResultsText(w io.Writer, query string, hits []models.SearchHit) error {
	if _, err := fmt.Fprintf(w, "\nFound %d results for %q\n\n", len(hits), utils.Truncate(query, maxQueryEcho)); err != nil {
		return err
	}
	for _, h := range hits {
		if _, err := fmt.Fprintf(w, "%3d. %.4f  %s\n", h.Rank, h.Score, h.Path); err != nil {
			return err
		}
	}
	return nil
}

// WriteIndexOutcome summarises an indexing run, listing at most sample failures.
func WriteIndexOutcome(w io.Writer, outcome *models.IndexOutcome, sample int) {
	fmt.Fprintf(w, "Indexed %d of %d images into %q\n", outcome.Indexed, outcome.Found, outcome.Collection)
	failures, more := outcome.FailureSample(sample)
	if len(failures) == 0 {
		return
	}
	fmt.Fprintf(w, "%d failed:\n", len(outcome.Failures))
	for _, f := range failures {
		fmt.Fprintf(w, "  %s\n", f)
	}
	if more > 0 {
		fmt.Fprintf(w, "  ... and %d more errors\n", more)
	}
}

// WriteStats prints collection statistics.
func WriteStats(w io.Writer, stats *models.StatsResponse) {
	fmt.Fprintf(w, "Collection:  %s\n", stats.CollectionName)
	fmt.Fprintf(w, "Images:      %d\n", stats.TotalImages)
	fmt.Fprintf(w, "Dimension:   %d\n", stats.EmbeddingDimension)
	fmt.Fprintf(w, "Store:       %s\n", stats.StoreType)
	if stats.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:  %d bytes\n", *stats.DiskUsageBytes)
	}
}

// WriteCollections prints one line per collection.
func WriteCollections(w io.Writer, resp *models.CollectionsResponse) {
	if len(resp.Collections) == 0 {
		fmt.Fprintf(w, "No collections in the %s store.\n", resp.StoreType)
		return
	}
	fmt.Fprintf(w, "%-24s %8s %9s\n", "COLLECTION", "IMAGES", "DIMENSION")
	for _, c := range resp.Collections {
		fmt.Fprintf(w, "%-24s %8d %9d\n", c.CollectionName, c.TotalImages, c.EmbeddingDimension)
	}
}
