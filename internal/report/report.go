// Package report renders run summaries for humans and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/stacklok/oic-target/internal/status"
)

// Format selects how a summary is rendered
type Format string

const (
	// FormatAuto renders a table on terminals and JSON otherwise
	FormatAuto Format = "auto"
	// FormatTable renders a per-stream table
	FormatTable Format = "table"
	// FormatJSON renders the run status as indented JSON
	FormatJSON Format = "json"
)

// ParseFormat validates a format name. The empty string means auto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatTable, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown summary format %q, expected auto, table or json", s)
	}
}

// Write renders s to w
func Write(w io.Writer, s *status.RunStatus, f Format) error {
	if s == nil {
		return fmt.Errorf("no run status to render")
	}
	switch resolve(w, f) {
	case FormatTable:
		return writeTable(w, s)
	default:
		return writeJSON(w, s)
	}
}

// resolve turns auto into table for terminals
func resolve(w io.Writer, f Format) Format {
	if f != FormatAuto {
		return f
	}
	if fd, ok := w.(interface{ Fd() uintptr }); ok && term.IsTerminal(int(fd.Fd())) {
		return FormatTable
	}
	return FormatJSON
}

func writeJSON(w io.Writer, s *status.RunStatus) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode run status: %w", err)
	}
	return nil
}

func writeTable(w io.Writer, s *status.RunStatus) error {
	mode := ""
	if s.DryRun {
		mode = " (dry run)"
	}
	if _, err := fmt.Fprintf(w, "Run %s against %s: %s%s in %s\n",
		s.RunID, s.Instance, s.Phase, mode, s.Duration().Round(time.Millisecond)); err != nil {
		return err
	}
	if s.Message != "" {
		if _, err := fmt.Fprintln(w, s.Message); err != nil {
			return err
		}
	}

	table := tablewriter.NewWriter(w)
	table.Header("Stream", "Processed", "Created", "Updated", "Actions", "Activated", "Skipped", "Failed")

	streams := make([]string, 0, len(s.Streams))
	for name := range s.Streams {
		streams = append(streams, name)
	}
	slices.Sort(streams)
	for _, name := range streams {
		if err := table.Append(row(name, s.Streams[name])); err != nil {
			return fmt.Errorf("failed to render stream %s: %w", name, err)
		}
	}
	if err := table.Append(row("total", s.Totals)); err != nil {
		return fmt.Errorf("failed to render totals: %w", err)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render summary table: %w", err)
	}

	if _, err := fmt.Fprintf(w, "Batches: %d (%d failed)\n", s.Batches, s.FailedBatches); err != nil {
		return err
	}
	if len(s.Errors) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, "Errors:"); err != nil {
		return err
	}
	for _, msg := range s.Errors {
		if _, err := fmt.Fprintf(w, "  - %s\n", msg); err != nil {
			return err
		}
	}
	return nil
}

func row(name string, c status.Counts) []string {
	return []string{
		name,
		strconv.Itoa(c.Processed),
		strconv.Itoa(c.Created),
		strconv.Itoa(c.Updated),
		strconv.Itoa(c.Actions),
		strconv.Itoa(c.Activated),
		strconv.Itoa(c.Skipped),
		strconv.Itoa(c.Failed),
	}
}
