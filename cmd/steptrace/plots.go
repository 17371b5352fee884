package main

import (
	"encoding/base64"
	"encoding/json"
	"html/template"
	"io"
	"os"

	"github.com/gomlx/steptrace/pkg/trace/events"
	"github.com/gomlx/steptrace/pkg/trace/tracestats"
	"github.com/pkg/errors"

	grob "github.com/MetalBlueberry/go-plotly/generated/v2.34.0/graph_objects"
	ptypes "github.com/MetalBlueberry/go-plotly/pkg/types"
)

// PlotlySrc is the Plotly.js version matching the generated graph objects.
const PlotlySrc = "https://cdn.plot.ly/plotly-2.34.0.min.js"

// timelineFigure plots one marker per event, start time against duration, one trace per category.
func timelineFigure(tf *events.TraceFile) *grob.Fig {
	fig := &grob.Fig{
		Layout: &grob.Layout{
			Title: &grob.LayoutTitle{Text: ptypes.S("Events: start time (µs) vs. duration (µs)")},
			Xaxis: &grob.LayoutXaxis{
				Showgrid: ptypes.B(true),
				Type:     grob.LayoutXaxisTypeLinear,
			},
			Yaxis: &grob.LayoutYaxis{
				Showgrid: ptypes.B(true),
				Type:     grob.LayoutYaxisTypeLinear,
			},
		},
	}
	xs := make(map[tracestats.Category][]float64)
	ys := make(map[tracestats.Category][]float64)
	for _, ev := range tf.TraceEvents {
		cat := tracestats.CategoryOf(ev.Name)
		xs[cat] = append(xs[cat], float64(ev.TS))
		ys[cat] = append(ys[cat], float64(ev.Dur))
	}
	for _, cat := range tracestats.Categories {
		if len(xs[cat]) == 0 {
			continue
		}
		fig.Data = append(fig.Data, &grob.Scatter{
			Name: ptypes.S(string(cat)),
			Mode: "markers",
			X:    ptypes.DataArray(xs[cat]),
			Y:    ptypes.DataArray(ys[cat]),
		})
	}
	return fig
}

var (
	singleFileHTML = `<!DOCTYPE html>
	<head>
		<meta charset="utf-8">
		<script src="{{ .CDN }}"></script>
	</head>
	<body style="background-color: black;">
{{- range $i, $f := .Figures }}
		<div id="plot{{ $i }}"></div>
{{- end }}
	<script>
{{- range $i, $f := .Figures }}
		data = JSON.parse(atob('{{ $f }}'))
		Plotly.newPlot('plot{{ $i }}', data);
{{- end }}
	</script>
	</body>
</html>`
	singleFileHTMLTmpl = template.Must(template.New("plotly").Parse(singleFileHTML))
)

// WritePlotlyAsHTML renders the Plotly figures (given as JSON) to an HTML page.
func WritePlotlyAsHTML(w io.Writer, figuresAsJSON ...[]byte) error {
	data := &struct {
		CDN     string
		Figures []string
	}{CDN: PlotlySrc}
	for _, fig := range figuresAsJSON {
		data.Figures = append(data.Figures, base64.StdEncoding.EncodeToString(fig))
	}
	if err := singleFileHTMLTmpl.Execute(w, data); err != nil {
		return errors.Wrap(err, "failed to render plotly")
	}
	return nil
}

// writeTimelinePlot writes the timeline of tf as a standalone HTML file.
func writeTimelinePlot(fileName string, tf *events.TraceFile) error {
	figAsJSON, err := json.Marshal(timelineFigure(tf))
	if err != nil {
		return errors.Wrap(err, "failed to serialize timeline plot")
	}
	f, err := os.Create(fileName)
	if err != nil {
		return errors.Wrapf(err, "failed to create file %q", fileName)
	}
	defer func() { _ = f.Close() }()
	return WritePlotlyAsHTML(f, figAsJSON)
}
