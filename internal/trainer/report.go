package trainer

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// newTable returns a light-style table writing to w. Headers keep the
// casing they are given.
func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	return t
}

// Render writes the history as a table, one row per epoch.
func (h History) Render(w io.Writer) {
	t := newTable(w)

	withVal := false
	for _, e := range h.Epochs {
		if e.Validation != nil {
			withVal = true
			break
		}
	}

	header := table.Row{"Epoch", "Loss", "Accuracy"}
	if withVal {
		header = append(header, "Val Loss", "Val Accuracy")
	}
	header = append(header, "Time")
	t.AppendHeader(header)

	for _, e := range h.Epochs {
		row := table.Row{e.Epoch, fmt.Sprintf("%.4f", e.Train.Loss), percent(e.Train.Accuracy)}
		if withVal {
			if e.Validation != nil {
				row = append(row, fmt.Sprintf("%.4f", e.Validation.Loss), percent(e.Validation.Accuracy))
			} else {
				row = append(row, "-", "-")
			}
		}
		row = append(row, e.Duration.Round(time.Millisecond))
		t.AppendRow(row)
	}

	t.Render()
}

// RenderMetrics writes a single-row metrics table labelled with name.
func RenderMetrics(w io.Writer, name string, m Metrics) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Split", "Samples", "Loss", "Accuracy"})
	t.AppendRow(table.Row{name, m.Samples, fmt.Sprintf("%.4f", m.Loss), percent(m.Accuracy)})
	t.Render()
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}
