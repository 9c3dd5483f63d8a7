package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/rover/internal/hlac"
	"github.com/banshee-data/rover/internal/httputil"
)

// featureLabels names the feature vector entries by correlation order.
func featureLabels() []string {
	labels := make([]string, 0, hlac.NumFeatures)
	labels = append(labels, "0th")
	for i := range 4 {
		labels = append(labels, fmt.Sprintf("1st-%d", i))
	}
	for i := range hlac.NumPairs {
		labels = append(labels, fmt.Sprintf("2nd-%d", i))
	}
	return labels
}

// featuresChart renders the latest HLAC vector and class scores as bar
// charts.
func (s *Server) featuresChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.d.Pipeline == nil {
		httputil.ServiceUnavailable(w, "no pipeline")
		return
	}
	res, ok := s.d.Pipeline.Latest()
	if !ok {
		httputil.NotFound(w, "no frame processed yet")
		return
	}

	feats := make([]opts.BarData, len(res.Features))
	for i, v := range res.Features {
		feats[i] = opts.BarData{Value: v}
	}
	featBar := charts.NewBar()
	featBar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Rover Features", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "HLAC features",
			Subtitle: fmt.Sprintf("frame=%d at=%s", res.Frame.Seq, res.At.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	featBar.SetXAxis(featureLabels()).AddSeries("features", feats)

	classes := make([]string, len(res.Scores))
	scores := make([]opts.BarData, len(res.Scores))
	for i, v := range res.Scores {
		classes[i] = fmt.Sprintf("class %d", i)
		scores[i] = opts.BarData{Value: v}
	}
	scoreBar := charts.NewBar()
	scoreBar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Class scores",
			Subtitle: fmt.Sprintf("label=%d score=%.3f command=%s", res.Label, res.Score, res.Command),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	scoreBar.SetXAxis(classes).
		AddSeries("scores", scores,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(featBar, scoreBar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
