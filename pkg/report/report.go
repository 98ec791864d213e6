// Package report renders scan reports and audit issues for humans and tools.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/howtoharden/hth/pkg/engine"
)

// Format selects a renderer.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatSARIF Format = "sarif"
	FormatCSV   Format = "csv"
)

// Formats lists the supported output formats.
var Formats = []Format{FormatTable, FormatJSON, FormatSARIF, FormatCSV}

// ParseFormat accepts any casing.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q (want table, json, sarif or csv)", s)
}

// Options tune rendering.
type Options struct {
	// NoColor strips ANSI styling from table output.
	NoColor bool
	// Version is stamped into SARIF output.
	Version string
}

// Render writes r to w in format f.
func Render(w io.Writer, r engine.ScanReport, f Format, opts Options) error {
	switch f {
	case FormatTable, "":
		return WriteTable(w, r, opts)
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatSARIF:
		return WriteSARIF(w, r, opts.Version)
	case FormatCSV:
		return WriteCSV(w, r)
	}
	return fmt.Errorf("unknown output format %q", f)
}
