package commands

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/born-ml/detectnumber/internal/coreml"
	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/onnx"
	"github.com/born-ml/detectnumber/internal/predict"
	"github.com/born-ml/detectnumber/internal/serialization"
)

// ErrUnknownFileType is returned by inspect for unrecognized extensions.
var ErrUnknownFileType = predict.ErrUnknownModelType

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Describe a .born, .mlmodel or .onnx file",
		Long: `Print the header, architecture and parameter counts of a native model, or
the features and layers of a converted Core ML or ONNX model.`,
		Example: `  detectnumber inspect NumberDetectorModel.born
  detectnumber inspect NumberDetectorModel.mlmodel`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			out := cmd.OutOrStdout()

			switch strings.ToLower(filepath.Ext(path)) {
			case ".born":
				return inspectNative(out, path)
			case ".mlmodel":
				return inspectCoreML(out, path)
			case ".onnx":
				return inspectONNX(out, path)
			default:
				return fmt.Errorf("%w: %s", ErrUnknownFileType, path)
			}
		},
	}
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func inspectNative(w io.Writer, path string) error {
	f, err := serialization.ReadFile(path)
	if err != nil {
		return err
	}
	h := f.Header

	info := newTable(w, "Model")
	info.AppendRows([]table.Row{
		{"ID", h.ModelID},
		{"Type", h.ModelType},
		{"Producer", h.Producer + " " + h.ProducerVersion},
		{"Format version", h.FormatVersion},
		{"Created", h.CreatedAt.Format(time.RFC3339)},
		{"Checksum", fmt.Sprintf("%x", f.Checksum)},
	})
	if tr := h.Training; tr != nil {
		info.AppendSeparator()
		info.AppendRows([]table.Row{
			{"Epochs", tr.Epochs},
			{"Batch size", tr.BatchSize},
			{"Optimizer", fmt.Sprintf("%s (lr %g)", tr.Optimizer, tr.LearningRate)},
			{"Loss", tr.Loss},
			{"Train samples", tr.TrainSamples},
			{"Train accuracy", fmt.Sprintf("%.2f%%", tr.TrainAccuracy*100)},
			{"Test accuracy", fmt.Sprintf("%.2f%%", tr.TestAccuracy*100)},
		})
	}
	for _, k := range sortedMapKeys(h.Metadata) {
		info.AppendRow(table.Row{k, h.Metadata[k]})
	}
	info.Render()

	specs, err := f.Specs()
	if err != nil {
		return err
	}
	rows, err := nn.Summarize(specs)
	if err != nil {
		return err
	}

	arch := newTable(w, "Architecture")
	arch.AppendHeader(table.Row{"Layer", "Type", "Output Shape", "Params"})
	total := 0
	for _, r := range rows {
		arch.AppendRow(table.Row{r.Name, r.Type, r.OutputShape.String(), r.Params})
		total += r.Params
	}
	arch.AppendFooter(table.Row{"", "", "Total", total})
	arch.Render()
	return nil
}

func inspectCoreML(w io.Writer, path string) error {
	m, err := coreml.ReadFile(path)
	if err != nil {
		return err
	}

	info := newTable(w, "Core ML")
	info.AppendRow(table.Row{"Specification version", m.SpecificationVersion})
	if d := m.Description; d != nil {
		for _, in := range d.Input {
			info.AppendRow(table.Row{"Input", describeFeature(in)})
		}
		for _, o := range d.Output {
			info.AppendRow(table.Row{"Output", describeFeature(o)})
		}
		if md := d.Metadata; md != nil {
			if md.ShortDescription != "" {
				info.AppendRow(table.Row{"Description", md.ShortDescription})
			}
			if md.VersionString != "" {
				info.AppendRow(table.Row{"Version", md.VersionString})
			}
			if md.Author != "" {
				info.AppendRow(table.Row{"Author", md.Author})
			}
			if md.License != "" {
				info.AppendRow(table.Row{"License", md.License})
			}
			for _, k := range sortedMapKeys(md.UserDefined) {
				info.AppendRow(table.Row{k, md.UserDefined[k]})
			}
		}
	}
	info.Render()

	if m.NeuralNetwork == nil {
		return nil
	}
	layers := newTable(w, "Layers")
	layers.AppendHeader(table.Row{"Name", "Kind", "Inputs", "Outputs"})
	for _, l := range m.NeuralNetwork.Layers {
		layers.AppendRow(table.Row{l.Name, l.Kind(), strings.Join(l.Inputs, ", "), strings.Join(l.Outputs, ", ")})
	}
	layers.Render()
	return nil
}

func describeFeature(f *coreml.FeatureDescription) string {
	if f.Type == nil || f.Type.MultiArray == nil {
		return f.Name
	}
	a := f.Type.MultiArray
	dims := make([]string, len(a.Shape))
	for i, d := range a.Shape {
		dims[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("%s %s[%s]", f.Name, a.DataType, strings.Join(dims, " x "))
}

func inspectONNX(w io.Writer, path string) error {
	proto, err := onnx.ParseFile(path)
	if err != nil {
		return err
	}
	mi := onnx.Info(proto)

	info := newTable(w, "ONNX")
	info.AppendRows([]table.Row{
		{"IR version", mi.IRVersion},
		{"Opset", mi.OpsetVersion},
		{"Producer", strings.TrimSpace(mi.ProducerName + " " + mi.ProducerVersion)},
		{"Inputs", strings.Join(mi.InputNames, ", ")},
		{"Outputs", strings.Join(mi.OutputNames, ", ")},
		{"Weights", mi.WeightCount},
	})
	for _, p := range proto.MetadataProps {
		info.AppendRow(table.Row{p.Key, p.Value})
	}
	info.Render()

	if proto.Graph == nil {
		return nil
	}
	nodes := newTable(w, "Nodes")
	nodes.AppendHeader(table.Row{"Name", "Op", "Inputs", "Outputs"})
	for _, n := range proto.Graph.Nodes {
		nodes.AppendRow(table.Row{n.Name, n.OpType, strings.Join(n.Inputs, ", "), strings.Join(n.Outputs, ", ")})
	}
	nodes.Render()
	return nil
}

func sortedMapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
