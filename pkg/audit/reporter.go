package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"
)

// Reporter consumes an issue sequence and returns how many issues it emitted.
// Errors come only from the underlying sink; an empty sequence is success.
type Reporter interface {
	Report(issues iter.Seq[Issue]) (int, error)
}

// LineReporter writes one "subject: reason" line per issue.
type LineReporter struct {
	W io.Writer
}

// NewLineReporter creates a LineReporter on w.
func NewLineReporter(w io.Writer) *LineReporter {
	return &LineReporter{W: w}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func (l *LineReporter) Report(issues iter.Seq[Issue]) (int, error) {
	n := 0
	for i := range issues {
		if _, err := fmt.Fprintln(l.W, lineBreaks.Replace(i.String())); err != nil {
			return n, fmt.Errorf("write issue: %w", err)
		}
		n++
	}
	return n, nil
}

// JSONReporter writes one JSON object per line.
type JSONReporter struct {
	W io.Writer
}

func (j *JSONReporter) Report(issues iter.Seq[Issue]) (int, error) {
	enc := json.NewEncoder(j.W)
	n := 0
	for i := range issues {
		if err := enc.Encode(i); err != nil {
			return n, fmt.Errorf("write issue: %w", err)
		}
		n++
	}
	return n, nil
}

// Collector keeps issues in memory for later rendering.
type Collector struct {
	Issues []Issue
}

func (c *Collector) Report(issues iter.Seq[Issue]) (int, error) {
	n := 0
	for i := range issues {
		c.Issues = append(c.Issues, i)
		n++
	}
	return n, nil
}

// Tee fans a sequence out to several reporters in order. The returned count
// is the number of issues in the sequence.
type Tee []Reporter

func (t Tee) Report(issues iter.Seq[Issue]) (int, error) {
	var buf []Issue
	for i := range issues {
		buf = append(buf, i)
	}
	for _, r := range t {
		if _, err := r.Report(Slice(buf)); err != nil {
			return len(buf), err
		}
	}
	return len(buf), nil
}
