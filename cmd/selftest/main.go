// Command selftest runs the 2-D transform diagnostics once, either locally
// against an emulated external memory or on a running rover, and prints
// the report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/fft"
	"github.com/banshee-data/rover/internal/httputil"
	"github.com/banshee-data/rover/internal/selftest"
	"github.com/banshee-data/rover/internal/timeutil"
	"github.com/banshee-data/rover/internal/xmem"
)

func main() {
	client := &http.Client{Timeout: 5 * time.Minute}
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, client))
}

// run returns the process exit code: 0 when every check passed, 1 when a
// check failed and 2 when the suite could not run.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, client httputil.Doer) int {
	fs := flag.NewFlagSet("selftest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to a JSON config file (built-in defaults when empty)")
	size := fs.Int("size", 0, "Edge of the full-size round trip (0 uses fft_max_size, -1 skips it)")
	plots := fs.String("plots", "", "Directory to write PNG plots to")
	remote := fs.String("remote", "", "Base URL of a running rover, e.g. http://rover:8080")
	asJSON := fs.Bool("json", false, "Print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var report *selftest.Report
	var err error
	if *remote != "" {
		report, err = runRemote(ctx, client, *remote)
	} else {
		report, err = runLocal(ctx, *configPath, *size)
	}
	if err != nil {
		fmt.Fprintf(stderr, "selftest: %v\n", err)
		return 2
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(stderr, "selftest: %v\n", err)
			return 2
		}
	} else {
		printReport(stdout, report)
	}

	if *plots != "" {
		files, err := selftest.WritePlots(*plots, report)
		if err != nil {
			fmt.Fprintf(stderr, "selftest: %v\n", err)
			return 2
		}
		for _, f := range files {
			fmt.Fprintf(stderr, "wrote %s\n", f)
		}
	}

	if !report.Passed {
		return 1
	}
	return 0
}

func runRemote(ctx context.Context, client httputil.Doer, base string) (*selftest.Report, error) {
	var report selftest.Report
	url := strings.TrimSuffix(base, "/") + "/api/selftest"
	if err := httputil.DoJSON(ctx, client, http.MethodPost, url, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func runLocal(ctx context.Context, configPath string, size int) (*selftest.Report, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	engine := fft.NewEngine(fft.WithMaxSize(cfg.GetFFTMaxSize()))
	large := engine.MaxSize()
	switch {
	case size < 0:
		large = 0
	case size > 0:
		large = size
	}

	need := selftest.RegionBytes(max(selftest.SmallSize, large))
	region := xmem.Region{Name: "fft", Base: cfg.GetFFTBase(), Size: need}
	store := xmem.NewBlockStore(xmem.NewMemStore(region.End()))

	suite := selftest.NewSuite(engine, region.Bind(store), timeutil.RealClock{})
	suite.LargeSize = large
	suite.TransposeCapacity = cfg.GetTransposeCapacity()
	return suite.Run(ctx)
}

func printReport(w io.Writer, r *selftest.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tPATTERN\tSIZE\tROUTE\tRMSE\tRESULT\tDETAIL")
	for _, c := range r.Checks {
		result := "PASS"
		if !c.Passed {
			result = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.3g\t%s\t%s\n", c.Name, c.Pattern, c.Size, c.Route, c.RMSE, result, c.Detail)
	}
	tw.Flush()

	rt := r.RoundTrip
	fmt.Fprintf(w, "\nround trip rmse: n=%d mean=%.3g std=%.3g min=%.3g max=%.3g\n", rt.Count, rt.Mean, rt.StdDev, rt.Min, rt.Max)
	verdict := "PASSED"
	if !r.Passed {
		verdict = fmt.Sprintf("FAILED (%d of %d checks)", len(r.Failed()), len(r.Checks))
	}
	fmt.Fprintf(w, "run %s %s in %s\n", r.ID, verdict, r.Elapsed.Round(time.Millisecond))
}
