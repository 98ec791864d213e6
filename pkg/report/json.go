package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/howtoharden/hth/pkg/engine"
)

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r engine.ScanReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode scan report: %w", err)
	}
	return nil
}

// ReadJSON decodes a report previously written by WriteJSON.
func ReadJSON(rd io.Reader) (engine.ScanReport, error) {
	var r engine.ScanReport
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return engine.ScanReport{}, fmt.Errorf("decode scan report: %w", err)
	}
	return r, nil
}

// LoadJSON reads a saved report from disk.
func LoadJSON(path string) (engine.ScanReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return engine.ScanReport{}, err
	}
	defer f.Close()
	return ReadJSON(f)
}
