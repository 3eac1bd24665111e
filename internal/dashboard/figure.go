package dashboard

import (
	"time"

	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

// Figure is a chart payload in the shape Plotly accepts for
// Plotly.react(element, figure.data, figure.layout).
type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

// Trace is one line of the chart.
type Trace struct {
	X    []string  `json:"x"`
	Y    []float64 `json:"y"`
	Name string    `json:"name"`
	Type string    `json:"type"`
	Mode string    `json:"mode"`
}

// Layout holds the chart decoration.
type Layout struct {
	Title      string `json:"title"`
	Template   string `json:"template"`
	XAxis      Axis   `json:"xaxis"`
	YAxis      Axis   `json:"yaxis"`
	UIRevision int    `json:"uirevision"`
}

// Axis describes one axis.
type Axis struct {
	Title      string   `json:"title,omitempty"`
	Type       string   `json:"type,omitempty"`
	TickFormat string   `json:"tickformat,omitempty"`
	Range      []string `json:"range,omitempty"`
}

// channelNames lists the names of the channels in group, in catalog order.
func channelNames(cat *catalog.Catalog, group string) []string {
	var names []string
	for _, ch := range cat.Channels() {
		if ch.Group == group {
			names = append(names, ch.Name)
		}
	}
	return names
}

// BuildFigure renders a window read of the channels of c. The x-axis spans
// [from, to] exactly, so the chart scrolls even when no samples arrive.
func BuildFigure(c Category, names []string, window types.Window, from, to time.Time, loc *time.Location) Figure {
	fig := Figure{
		Data: make([]Trace, 0, len(names)),
		Layout: Layout{
			Title:    c.Name,
			Template: "plotly_dark",
			XAxis: Axis{
				Range: []string{formatTime(from, loc), formatTime(to, loc)},
			},
			YAxis: Axis{
				Title:      c.YTitle,
				TickFormat: c.TickFormat,
			},
			UIRevision: 1,
		},
	}
	if c.Log {
		fig.Layout.YAxis.Type = "log"
	}

	for _, name := range names {
		samples := window[name]
		tr := Trace{
			X:    make([]string, len(samples)),
			Y:    make([]float64, len(samples)),
			Name: name,
			Type: "scatter",
			Mode: "lines",
		}
		for i, s := range samples {
			tr.X[i] = formatTime(s.Timestamp, loc)
			tr.Y[i] = s.Value
		}
		fig.Data = append(fig.Data, tr)
	}
	return fig
}

func formatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(types.ISOLayout)
}
