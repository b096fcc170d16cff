// Package tui renders run results and batch progress for the terminal.
package tui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/logflow/tabprep/pkg/monitor"
	"github.com/logflow/tabprep/pkg/preprocess"
	"github.com/logflow/tabprep/pkg/profile"
)

var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warn    = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warn)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
	rule         = mutedStyle.Render("  ─────────────────────────────────────")
)

// PrintHeader prints the tool banner.
func PrintHeader(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  TABPREP")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  Tabular data preprocessing"))
	fmt.Fprintln(w)
}

// Options controls how much of a result is printed.
type Options struct {
	// Transformations caps the ledger entries shown; 0 hides them.
	Transformations int
	Verbose         bool
}

// PrintResult prints a run summary. Workbook results print every sheet.
func PrintResult(w io.Writer, res *preprocess.Result, opts Options) {
	if len(res.Sheets) > 1 {
		for _, name := range res.SheetNames() {
			printOne(w, res.Sheets[name], opts)
		}
		return
	}
	printOne(w, res, opts)
}

func printOne(w io.Writer, res *preprocess.Result, opts Options) {
	rec := res.Metadata.Record
	fmt.Fprintln(w)
	label := rec.File.Name
	if res.Sheet != "" && res.Sheet != strings.TrimSuffix(label, extOf(label)) {
		label += " [" + res.Sheet + "]"
	}
	if !res.OK() {
		fmt.Fprintln(w, accentStyle.Render("  ✗ FAILED ")+titleStyle.Render(label))
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Error:"), res.Error)
		printChain(w, rec.Chain)
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintln(w, successStyle.Render("  ✓ PROCESSED ")+titleStyle.Render(label))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("ID:"), codeStyle.Render(rec.ID))
	fmt.Fprintf(w, "  %s %s → %s\n",
		mutedStyle.Render("Shape:"),
		shape(res.Metadata.OriginalShape),
		titleStyle.Render(shape(res.Metadata.FinalShape)))
	if rec.File.Encoding != "" {
		fmt.Fprintf(w, "  %s %s %s\n", mutedStyle.Render("Input:"), rec.File.Encoding,
			mutedStyle.Render(fmt.Sprintf("(%s, delimiter %q)", formatBytes(rec.File.Size), rec.File.Delimiter)))
	}
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Time:"), formatDuration(rec.TotalDuration))
	fmt.Fprintln(w, rule)

	printQuality(w, res.Metadata.InitialQuality, res.Quality)
	if len(res.Metadata.Signatures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, accentStyle.Render("  ▸ COLUMNS"))
		for _, sig := range res.Metadata.Signatures {
			fmt.Fprintf(w, "  %-24s %-12s %s\n",
				truncate(sig.Column, 24),
				sig.Type.String(),
				mutedStyle.Render(fmt.Sprintf("%.0f%% confident, %.0f%% null", sig.Confidence*100, sig.NullPercentage)))
		}
	}
	if fin := res.Metadata.Financial; fin != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, accentStyle.Render("  ▸ FINANCIAL"))
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Currency columns:"), strings.Join(fin.CurrencyColumns, ", "))
		if v := res.Metadata.Validation; v != nil && !v.Passed {
			fmt.Fprintln(w, warnStyle.Render("  ! validation did not pass"))
		}
	}

	if opts.Verbose {
		printChain(w, rec.Chain)
	}
	printAudit(w, res.Audit, opts.Transformations)
	fmt.Fprintln(w)
}

func printQuality(w io.Writer, before, after profile.QualityScore) {
	fmt.Fprintln(w, accentStyle.Render("  ▸ QUALITY"))
	rows := []struct {
		name          string
		before, after float64
	}{
		{"overall", before.Overall, after.Overall},
		{"completeness", before.Completeness, after.Completeness},
		{"uniqueness", before.Uniqueness, after.Uniqueness},
		{"validity", before.Validity, after.Validity},
		{"consistency", before.Consistency, after.Consistency},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %-13s %s %5.1f %s\n",
			mutedStyle.Render(r.name),
			scoreBar(r.after, 20),
			r.after,
			delta(r.after-r.before))
	}
}

func scoreBar(score float64, width int) string {
	filled := int(score / 100 * float64(width))
	filled = max(0, min(width, filled))
	style := successStyle
	switch {
	case score < 50:
		style = accentStyle
	case score < 80:
		style = warnStyle
	}
	return style.Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", width-filled))
}

func delta(d float64) string {
	switch {
	case d > 0.05:
		return successStyle.Render(fmt.Sprintf("(+%.1f)", d))
	case d < -0.05:
		return accentStyle.Render(fmt.Sprintf("(%.1f)", d))
	default:
		return ""
	}
}

func printChain(w io.Writer, chain []monitor.NodeStatus) {
	if len(chain) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("  ▸ STAGES"))
	for _, n := range chain {
		mark := successStyle.Render("✓")
		if n.Status == monitor.NodeFailed {
			mark = accentStyle.Render("✗")
		}
		line := fmt.Sprintf("  %s %-22s %s", mark, n.Name, mutedStyle.Render(formatDuration(n.Duration)))
		if n.Error != "" {
			line += " " + warnStyle.Render(n.Error)
		}
		fmt.Fprintln(w, line)
	}
}

func printAudit(w io.Writer, a monitor.Audit, limit int) {
	t := a.Totals
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %d transformations, %d warnings, %d errors\n",
		mutedStyle.Render("Audit:"), t.Transformations, t.Warnings, t.Errors)
	for _, e := range a.Errors {
		fmt.Fprintf(w, "  %s %s: %s\n", accentStyle.Render("✗"), e.Node, e.Message)
	}
	if limit <= 0 {
		return
	}
	for i, tr := range a.Transformations {
		if i == limit {
			fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  … %d more", len(a.Transformations)-limit)))
			break
		}
		target := tr.Column
		if target == "" {
			target = tr.Node
		}
		fmt.Fprintf(w, "  %s %s %s\n", mutedStyle.Render("·"), tr.Operation, mutedStyle.Render("("+target+")"))
	}
}

// BatchEntry is one line of a batch summary.
type BatchEntry struct {
	Path    string
	Result  *preprocess.Result
	Elapsed time.Duration
}

// PrintBatch prints a table of batch outcomes, failures first.
func PrintBatch(w io.Writer, entries []BatchEntry) {
	sorted := append([]BatchEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return !sorted[i].Result.OK() && sorted[j].Result.OK()
	})

	var ok, failed int
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("  ▸ BATCH"))
	for _, e := range sorted {
		name := truncate(e.Path, 40)
		if !e.Result.OK() {
			failed++
			fmt.Fprintf(w, "  %s %-40s %s\n", accentStyle.Render("✗"), name, mutedStyle.Render(e.Result.Error))
			continue
		}
		ok++
		fmt.Fprintf(w, "  %s %-40s %5.1f %s\n",
			successStyle.Render("✓"), name, e.Result.Quality.Overall,
			mutedStyle.Render(fmt.Sprintf("%s, %s", shape(e.Result.Metadata.FinalShape), formatDuration(e.Elapsed))))
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  %s %s\n", successStyle.Render(fmt.Sprintf("%d succeeded", ok)),
		mutedStyle.Render(fmt.Sprintf("%d failed", failed)))
	fmt.Fprintln(w)
}

// ShowProgress creates a progress bar over a number of files.
func ShowProgress(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func shape(s preprocess.Shape) string {
	return fmt.Sprintf("%s×%d", formatNumber(int64(s.Rows)), s.Columns)
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}
