// Package histogram bins numeric column values for the overlap diagnostics.
package histogram

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pahproject/catalogdb/pkg/types"
)

// Defaults used by the file1_id diagnostic
const (
	DefaultThreshold int64 = 100000
	DefaultBins            = 1400
	DefaultColumn          = "file1_id"
)

// Output formats accepted by Render
const (
	FormatText = "text"
	FormatCSV  = "csv"
)

// Options controls binning
type Options struct {
	// Threshold excludes values greater than or equal to it. Zero disables the
	// cut, matching an explicit threshold = 0 in the config file.
	Threshold int64
	Bins      int
}

// Compute bins the values below the threshold into equal-width bins spanning
// the smallest and largest kept value. Every bin is half open except the last,
// which also includes the maximum.
func Compute(values []float64, opts Options) types.Histogram {
	if opts.Bins <= 0 {
		opts.Bins = DefaultBins
	}
	h := types.Histogram{Threshold: opts.Threshold, Total: len(values)}

	cut := float64(opts.Threshold)
	kept := make([]float64, 0, len(values))
	for _, v := range values {
		if opts.Threshold == 0 || v < cut {
			kept = append(kept, v)
		}
	}
	h.Kept = len(kept)
	if len(kept) == 0 {
		return h
	}

	lo, hi := kept[0], kept[0]
	for _, v := range kept[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	lower, upper := lo, hi
	if lo == hi {
		lower -= 0.5
		upper += 0.5
	}
	width := (upper - lower) / float64(opts.Bins)

	h.Bins = make([]types.HistogramBin, opts.Bins)
	for i := range h.Bins {
		h.Bins[i].Lower = lower + float64(i)*width
		h.Bins[i].Upper = lower + float64(i+1)*width
	}
	h.Bins[opts.Bins-1].Upper = upper

	for _, v := range kept {
		idx := int((v - lower) / width)
		if idx >= opts.Bins {
			idx = opts.Bins - 1
		}
		h.Bins[idx].Count++
	}
	return h
}

// RenderOptions controls output of a histogram
type RenderOptions struct {
	// Width is the length of the longest bar in text output
	Width  int
	Format string
}

// Render writes h to w as a text bar chart of the non-empty bins or as CSV
func Render(w io.Writer, h types.Histogram, opts RenderOptions) error {
	switch opts.Format {
	case "", FormatText:
		return renderText(w, h, opts.Width)
	case FormatCSV:
		return renderCSV(w, h)
	default:
		return fmt.Errorf("unknown histogram format %q (expected %s or %s)", opts.Format, FormatText, FormatCSV)
	}
}

func renderText(w io.Writer, h types.Histogram, width int) error {
	if width <= 0 {
		width = 50
	}
	r := lipgloss.NewRenderer(w)
	header := r.NewStyle().Bold(true)
	bar := r.NewStyle().Foreground(lipgloss.Color("#7C3AED"))

	var b strings.Builder
	b.WriteString(header.Render(fmt.Sprintf("%d of %d values below %d", h.Kept, h.Total, h.Threshold)))
	b.WriteString("\n")

	peak := 0
	for _, bin := range h.Bins {
		peak = max(peak, bin.Count)
	}
	for _, bin := range h.Bins {
		if bin.Count == 0 {
			continue
		}
		n := bin.Count * width / peak
		if n == 0 {
			n = 1
		}
		fmt.Fprintf(&b, "%12.1f - %-12.1f %8d %s\n", bin.Lower, bin.Upper, bin.Count, bar.Render(strings.Repeat("█", n)))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func renderCSV(w io.Writer, h types.Histogram) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"lower", "upper", "count"}); err != nil {
		return err
	}
	for _, bin := range h.Bins {
		err := cw.Write([]string{
			strconv.FormatFloat(bin.Lower, 'f', -1, 64),
			strconv.FormatFloat(bin.Upper, 'f', -1, 64),
			strconv.Itoa(bin.Count),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
