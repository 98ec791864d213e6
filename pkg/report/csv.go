package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/howtoharden/hth/pkg/audit"
	"github.com/howtoharden/hth/pkg/engine"
)

// WriteCSV writes one row per control.
func WriteCSV(w io.Writer, r engine.ScanReport) error {
	cw := csv.NewWriter(w)
	header := []string{"control_id", "title", "severity", "profile_level", "status", "checks_passed", "checks_total"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, c := range r.Controls {
		row := []string{
			c.ControlID,
			c.Title,
			string(c.Severity),
			strconv.Itoa(c.ProfileLevel),
			c.Status.Label(),
			strconv.Itoa(c.Passed()),
			strconv.Itoa(len(c.Checks)),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteIssuesCSV writes audit issues, one row each.
func WriteIssuesCSV(w io.Writer, issues []audit.Issue) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"vendor", "kind", "rule", "subject", "record_id", "reason"}); err != nil {
		return err
	}
	for _, i := range issues {
		if err := cw.Write([]string{i.Vendor, i.Kind, i.Rule, i.Subject, i.RecordID, i.Reason}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
