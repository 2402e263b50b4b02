package maintenance

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorSuccess = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")
	colorPrimary = lipgloss.Color("#7C3AED")

	successStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	titleStyle   = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1)
)

// Printer writes styled CLI output.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Success prints a success line.
func (p *Printer) Success(format string, args ...any) {
	_, _ = fmt.Fprintln(p.w, successStyle.Render("✓")+" "+fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (p *Printer) Warning(format string, args ...any) {
	_, _ = fmt.Fprintln(p.w, warningStyle.Render("⚠")+" "+fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	_, _ = fmt.Fprintln(p.w, errorStyle.Render("✗")+" "+fmt.Sprintf(format, args...))
}

// Muted prints a dimmed line.
func (p *Printer) Muted(format string, args ...any) {
	_, _ = fmt.Fprintln(p.w, mutedStyle.Render(fmt.Sprintf(format, args...)))
}

// Section prints a section header.
func (p *Printer) Section(title string) {
	_, _ = fmt.Fprintln(p.w)
	_, _ = fmt.Fprintln(p.w, titleStyle.Render(title))
	_, _ = fmt.Fprintln(p.w, mutedStyle.Render(strings.Repeat("─", lipgloss.Width(title))))
}

// Backups prints a backup listing.
func (p *Printer) Backups(list []BackupInfo) {
	if len(list) == 0 {
		p.Muted("No backups found")
		return
	}
	for _, b := range list {
		_, _ = fmt.Fprintf(p.w, "  %s  %s  %s\n",
			b.Name,
			mutedStyle.Render(b.CreatedAt.Format("2006-01-02 15:04:05")),
			mutedStyle.Render(formatSize(b.Size)),
		)
	}
}

// Diagnosis prints the catalog image report.
func (p *Printer) Diagnosis(d *Diagnosis, backend string) {
	summary := []string{
		titleStyle.Render("Catalog images"),
		fmt.Sprintf("Products:      %d", len(d.Products)),
		fmt.Sprintf("Stored (%s): %d", backend, d.Counts[StatusStored]),
		fmt.Sprintf("Placeholder:   %d", d.Counts[StatusPlaceholder]),
		fmt.Sprintf("External URL:  %d", d.Counts[StatusExternal]),
		fmt.Sprintf("Broken:        %d", d.Broken),
		fmt.Sprintf("Stored files:  %d (%d orphaned)", d.StoredTotal, d.Orphans),
	}
	_, _ = fmt.Fprintln(p.w, boxStyle.Render(strings.Join(summary, "\n")))

	p.Section("Products")
	for _, pi := range d.Products {
		_, _ = fmt.Fprintf(p.w, "%s [%d] %s %s\n",
			StatusIcon(pi.Status),
			pi.ID,
			pi.Name,
			mutedStyle.Render(truncate(pi.Image, 60)),
		)
	}

	_, _ = fmt.Fprintln(p.w)
	switch {
	case d.Broken > 0:
		p.Warning("%d of %d products have a broken image; run `catalogctl images repair`", d.Broken, len(d.Products))
	default:
		p.Success("Every product has a usable image")
	}
	if d.Orphans > 0 {
		p.Warning("%d stored images are not used; run `catalogctl images orphans`", d.Orphans)
	}
}

// StatusIcon returns a colored icon for an image status.
func StatusIcon(s ImageStatus) string {
	switch s {
	case StatusStored:
		return successStyle.Render("✓")
	case StatusPlaceholder:
		return mutedStyle.Render("○")
	case StatusExternal:
		return warningStyle.Render("↗")
	default:
		return errorStyle.Render("✗")
	}
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
