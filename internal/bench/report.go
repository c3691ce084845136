package bench

import (
	"fmt"
	"io"

	"github.com/sugawarayuuta/sonnet"

	"github.com/ubench/ubench/internal/pattern"
)

// Formatter renders a complete benchmark run.
type Formatter interface {
	Reporter
	Header() error
	Footer(results []Result) error
}

// TableReporter prints one row per symbol as the phases complete. The write
// column appears as soon as the write phase ends so progress is visible on
// slow devices.
type TableReporter struct {
	w io.Writer
}

// NewTableReporter creates a table reporter writing to w.
func NewTableReporter(w io.Writer) *TableReporter {
	return &TableReporter{w: w}
}

// Header prints the column headings.
func (t *TableReporter) Header() error {
	_, err := io.WriteString(t.w, "SIZE    WRITE     READ\n KiB    KiB/s    KiB/s\n======================\n")
	return err
}

// Phase prints the size and write columns after the write phase and ends
// the row after the read phase.
func (t *TableReporter) Phase(r Result, dir Direction) error {
	var err error
	switch dir {
	case Write:
		_, err = fmt.Fprintf(t.w, "%4s %8d", pattern.Label(r.PacketSize), int64(r.Write.KiBps()))
	case Read:
		_, err = fmt.Fprintf(t.w, " %8d\n", int64(r.Read.KiBps()))
	}
	return err
}

// Footer is a no-op; rows are complete once the read phase is reported.
func (t *TableReporter) Footer([]Result) error {
	return nil
}

// Document is the JSON rendering of a run.
type Document struct {
	RunID            string   `json:"run_id"`
	Version          string   `json:"version"`
	Profile          string   `json:"profile"`
	FilePath         string   `json:"file_path"`
	SizeMB           int      `json:"size_mb"`
	Pattern          string   `json:"pattern"`
	Bypass           string   `json:"bypass"`
	DirectIO         bool     `json:"direct_io"`
	RawClock         bool     `json:"raw_clock"`
	Seed             string   `json:"seed"`
	Fingerprint      string   `json:"fingerprint"`
	CompressionRatio float64  `json:"compression_ratio"`
	Rows             []Result `json:"rows"`
}

// JSONReporter buffers results and writes a single Document at the end of
// the run.
type JSONReporter struct {
	w   io.Writer
	doc Document
}

// NewJSONReporter creates a JSON reporter. The document's rows are filled
// in by Footer.
func NewJSONReporter(w io.Writer, doc Document) *JSONReporter {
	return &JSONReporter{w: w, doc: doc}
}

func (j *JSONReporter) Header() error {
	return nil
}

func (j *JSONReporter) Phase(Result, Direction) error {
	return nil
}

// Footer encodes the document with the completed rows.
func (j *JSONReporter) Footer(results []Result) error {
	j.doc.Rows = results
	if j.doc.Rows == nil {
		j.doc.Rows = []Result{}
	}
	data, err := sonnet.Marshal(&j.doc)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')
	_, err = j.w.Write(data)
	return err
}
