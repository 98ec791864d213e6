package report

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/howtoharden/hth/pkg/engine"
	"github.com/howtoharden/hth/pkg/pack"
)

var (
	colorGreen  = lipgloss.Color("#00FF99")
	colorPurple = lipgloss.Color("#874BFD")
	colorSub    = lipgloss.Color("#64748B")
	colorDanger = lipgloss.Color("#FF0055")
	colorWarn   = lipgloss.Color("#F59E0B")
	colorCyan   = lipgloss.Color("#22D3EE")
)

// styles binds the palette to a renderer for one writer.
type styles struct {
	title   lipgloss.Style
	subtle  lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
	border  lipgloss.Style
	pass    lipgloss.Style
	fail    lipgloss.Style
	skip    lipgloss.Style
	errored lipgloss.Style
	sev     map[pack.Severity]lipgloss.Style
}

func newStyles(w io.Writer, noColor bool) styles {
	r := lipgloss.NewRenderer(w)
	if noColor {
		r.SetColorProfile(termenv.Ascii)
	}
	base := r.NewStyle()
	return styles{
		title:   base.Foreground(colorPurple).Bold(true),
		subtle:  base.Foreground(colorSub),
		header:  base.Bold(true).Padding(0, 1),
		cell:    base.Padding(0, 1),
		border:  base.Foreground(colorSub),
		pass:    base.Foreground(colorGreen).Bold(true),
		fail:    base.Foreground(colorDanger).Bold(true),
		skip:    base.Foreground(colorWarn),
		errored: base.Foreground(colorPurple).Bold(true),
		sev: map[pack.Severity]lipgloss.Style{
			pack.SeverityCritical: base.Foreground(colorDanger).Bold(true),
			pack.SeverityHigh:     base.Foreground(colorWarn),
			pack.SeverityMedium:   base.Foreground(colorCyan),
			pack.SeverityLow:      base,
		},
	}
}

func (s styles) status(st engine.Status) lipgloss.Style {
	switch st {
	case engine.StatusPass:
		return s.pass
	case engine.StatusFail:
		return s.fail
	case engine.StatusSkip:
		return s.skip
	}
	return s.errored
}
