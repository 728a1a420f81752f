// Package cli provides output helpers for the kotae command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a -format flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

// NoAnswer is printed when nothing in the index matched the question.
const NoAnswer = "No matching documents found."

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes answer to w in the given format.
func WriteAnswer(w io.Writer, answer *models.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, answer)
	}
	if !answer.Matched {
		_, err := fmt.Fprintln(w, NoAnswer)
		return err
	}
	fmt.Fprintln(w, answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Sources (%d matches, %dms):\n", answer.Matches, answer.QueryTime)
		for _, src := range answer.Sources {
			fmt.Fprintf(w, "  - %s\n", src)
		}
	}
	if answer.Truncated {
		fmt.Fprintln(w, "(context was truncated)")
	}
	return nil
}

// WriteIngestResults writes one line per ingested source plus a total.
func WriteIngestResults(w io.Writer, results []*models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		if results == nil {
			results = []*models.IngestResult{}
		}
		return writeJSON(w, results)
	}
	var chunks, skipped int
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
			fmt.Fprintf(w, "unchanged  %s\n", r.Source)
		case r.Removed > 0:
			fmt.Fprintf(w, "ingested   %s (%d chunks, %d stale removed)\n", r.Source, r.Chunks, r.Removed)
		default:
			fmt.Fprintf(w, "ingested   %s (%d chunks)\n", r.Source, r.Chunks)
		}
		if !r.Skipped {
			chunks += r.Chunks
		}
	}
	_, err := fmt.Fprintf(w, "\n%d sources, %d chunks written, %d unchanged\n", len(results), chunks, skipped)
	return err
}

// Status is the summary printed by the status command.
type Status struct {
	Index          string                 `json:"index"`
	Provider       string                 `json:"provider"`
	Sources        int64                  `json:"sources"`
	Chunks         int64                  `json:"chunks"`
	DiskUsageBytes int64                  `json:"disk_usage_bytes"`
	LedgerBytes    int64                  `json:"ledger_bytes"`
	VectorBytes    int64                  `json:"vector_bytes"`
	Recent         []*models.SourceRecord `json:"recent,omitempty"`
}

// WriteStatus writes status to w in the given format.
func WriteStatus(w io.Writer, status *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "Index:      %s (%s)\n", status.Index, status.Provider)
	fmt.Fprintf(w, "Sources:    %d\n", status.Sources)
	fmt.Fprintf(w, "Chunks:     %d\n", status.Chunks)
	fmt.Fprintf(w, "Disk usage: %s (ledger %s, vectors %s)\n", FormatBytes(status.DiskUsageBytes),
		FormatBytes(status.LedgerBytes), FormatBytes(status.VectorBytes))
	if len(status.Recent) > 0 {
		fmt.Fprintln(w, "\nRecently ingested:")
		for _, r := range status.Recent {
			fmt.Fprintf(w, "  %-60s %5d chunks  %s\n",
				utils.Truncate(r.Source, 57), r.Chunks, r.IngestedAt.Format(time.DateTime))
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
