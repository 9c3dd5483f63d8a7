package selftest

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WritePlots renders the report's round-trip errors and, when present, the
// full-size spectrum row as PNG files in dir. It returns the files written.
func WritePlots(dir string, r *Report) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}
	prefix := r.ID.String()[:8]
	var files []string

	var names []string
	var values plotter.Values
	for _, c := range r.Checks {
		if c.Name != "round-trip" {
			continue
		}
		names = append(names, c.Pattern)
		values = append(values, c.RMSE)
	}
	if len(values) > 0 {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("Round-trip RMSE (%dx%d)", SmallSize, SmallSize)
		p.Y.Label.Text = "RMSE"
		bars, err := plotter.NewBarChart(values, vg.Points(20))
		if err != nil {
			return files, err
		}
		p.Add(bars)
		p.NominalX(names...)

		path := filepath.Join(dir, fmt.Sprintf("selftest_%s_rmse.png", prefix))
		if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
			return files, fmt.Errorf("save rmse plot: %w", err)
		}
		files = append(files, path)
	}

	if len(r.Spectrum) > 0 {
		p := plot.New()
		p.Title.Text = "Full-size spectrum, peak row"
		p.X.Label.Text = "kx"
		p.Y.Label.Text = "|F|"
		pts := make(plotter.XYs, len(r.Spectrum))
		for i, v := range r.Spectrum {
			pts[i] = plotter.XY{X: float64(i), Y: v}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return files, err
		}
		line.Width = vg.Points(1)
		p.Add(line)

		path := filepath.Join(dir, fmt.Sprintf("selftest_%s_spectrum.png", prefix))
		if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
			return files, fmt.Errorf("save spectrum plot: %w", err)
		}
		files = append(files, path)
	}
	return files, nil
}
