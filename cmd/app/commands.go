package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"XetraCast/internal/di"
	"XetraCast/internal/domain/models"
	"XetraCast/internal/services/plot"
	"XetraCast/internal/usecase"
	applogger "XetraCast/pkg/logger"
	"XetraCast/pkg/util"
)

type runFunc func(ctx context.Context, c *di.Container) error

// bindCommand registers the command's flags on fs and returns its runner.
func bindCommand(name string, fs *flag.FlagSet) (runFunc, bool) {
	switch name {
	case "fetch":
		from := fs.String("from", "", "first trading day, YYYY-MM-DD (default source.from)")
		to := fs.String("to", "", "last trading day, YYYY-MM-DD (default source.to)")
		return func(ctx context.Context, c *di.Container) error {
			return fetch(ctx, c, *from, *to)
		}, true

	case "prepare":
		plotDir := fs.String("plot", "", "also write one series chart per symbol into this directory")
		return func(ctx context.Context, c *di.Container) error {
			return prepare(ctx, c, *plotDir)
		}, true

	case "train":
		return func(ctx context.Context, c *di.Container) error {
			_, err := train(ctx, c)
			return err
		}, true

	case "deploy":
		job := fs.String("job", "", "training job to deploy (default latest completed)")
		endpoint := fs.String("name", "", "endpoint name (default endpoint.name)")
		return func(ctx context.Context, c *di.Container) error {
			_, err := deploy(ctx, c, *job, *endpoint)
			return err
		}, true

	case "forecast":
		var f forecastFlags
		fs.StringVar(&f.symbol, "symbol", "", "symbol to forecast (default every prepared symbol)")
		fs.StringVar(&f.cutoff, "cutoff", "", "last observed timestamp (default latest forecastable)")
		fs.IntVar(&f.confidence, "confidence", 0, "prediction interval width in percent (default forecast.confidence)")
		fs.IntVar(&f.samples, "samples", 0, "sample paths drawn by the endpoint (default forecast.num_samples)")
		fs.StringVar(&f.html, "html", "", "also write one forecast chart per symbol into this directory")
		return func(ctx context.Context, c *di.Container) error {
			return forecast(ctx, c, f)
		}, true

	case "teardown":
		all := fs.Bool("all", false, "delete every endpoint the registry lists as live")
		endpoint := fs.String("name", "", "endpoint name (default endpoint.name)")
		return func(ctx context.Context, c *di.Container) error {
			return teardown(ctx, c, *all, *endpoint)
		}, true

	case "serve":
		return func(ctx context.Context, c *di.Container) error {
			return c.App.Run(ctx)
		}, true

	case "run":
		keep := fs.Bool("keep", false, "leave the endpoint running afterwards")
		html := fs.String("html", "", "write forecast charts into this directory")
		return func(ctx context.Context, c *di.Container) error {
			return runAll(ctx, c, *keep, *html)
		}, true
	}
	return nil, false
}

func fetch(ctx context.Context, c *di.Container, from, to string) error {
	if c.Ingest == nil {
		return errors.New("fetch needs clickhouse.enabled")
	}
	if from == "" {
		from = c.Config.Source.From
	}
	if to == "" {
		to = c.Config.Source.To
	}
	fromDay, err := util.ParseDate(from)
	if err != nil {
		return err
	}
	toDay, err := util.ParseDate(to)
	if err != nil {
		return err
	}
	res, err := c.Ingest.Ingest(ctx, fromDay, toDay)
	if err != nil {
		return err
	}
	fmt.Printf("stored %d of %d bars for %s .. %s\n", res.Stored, res.Loaded, from, to)
	return nil
}

func prepare(ctx context.Context, c *di.Container, plotDir string) error {
	m, err := c.Builder.Build(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("prepared %d series (%d train, %d test), freq %s, horizon %d, train end %s\n",
		len(m.Symbols), m.TrainCount, m.TestCount, m.Freq, m.PredictionLength, m.TrainEnd.Format(time.RFC3339))
	if len(m.Dropped) > 0 {
		fmt.Printf("dropped: %v\n", m.Dropped)
	}
	if m.TrainURI != "" {
		fmt.Printf("train channel: %s\ntest channel:  %s\n", m.TrainURI, m.TestURI)
	}
	if plotDir == "" {
		return nil
	}

	for _, sym := range m.Symbols {
		ts, freq, err := c.Forecast.Series(sym)
		if err != nil {
			return err
		}
		path := filepath.Join(plotDir, "series_"+sym+".html")
		if err := writeFile(path, func(w io.Writer) error {
			return plot.SeriesChart(w, sym, *ts, freq, c.Forecast.Covariates())
		}); err != nil {
			return err
		}
		c.Logger.Info("series chart written", applogger.String("path", path))
	}
	return nil
}

func train(ctx context.Context, c *di.Container) (*models.TrainingJob, error) {
	if err := c.Config.RequireAWS(); err != nil {
		return nil, err
	}
	job, err := c.Training.Train(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Printf("training job %s %s, model %s\n", job.Name, job.Status, job.ModelArtifact)
	return job, nil
}

func deploy(ctx context.Context, c *di.Container, job, name string) (*models.Endpoint, error) {
	if err := c.Config.RequireAWS(); err != nil {
		return nil, err
	}
	ep, err := c.Training.Deploy(ctx, job, name)
	if err != nil {
		return ep, err
	}
	fmt.Printf("endpoint %s %s (job %s)\n", ep.Name, ep.Status, ep.TrainingJob)
	return ep, nil
}

func teardown(ctx context.Context, c *di.Container, all bool, name string) error {
	if !all {
		return c.Training.Teardown(ctx, name)
	}
	deleted, err := c.Training.TeardownAll(ctx)
	for _, n := range deleted {
		fmt.Printf("deleted %s\n", n)
	}
	return err
}

type forecastFlags struct {
	symbol     string
	cutoff     string
	confidence int
	samples    int
	html       string
}

func forecast(ctx context.Context, c *di.Container, f forecastFlags) error {
	var cutoff time.Time
	if f.cutoff != "" {
		t, ok := util.ParseTime(f.cutoff)
		if !ok {
			return fmt.Errorf("cannot parse cutoff %q", f.cutoff)
		}
		cutoff = t
	}

	symbols := []string{f.symbol}
	if f.symbol == "" {
		all, err := c.Forecast.Symbols()
		if err != nil {
			return err
		}
		symbols = all
	}

	var errs []error
	for _, sym := range symbols {
		view, err := c.Forecast.Forecast(ctx, usecase.Params{
			Symbol:     sym,
			Cutoff:     cutoff,
			Confidence: f.confidence,
			NumSamples: f.samples,
		})
		if err != nil {
			c.Logger.Error("forecast failed", applogger.String("symbol", sym), applogger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		printForecast(os.Stdout, view)

		if f.html == "" {
			continue
		}
		path := filepath.Join(f.html, "forecast_"+sym+".html")
		if err := writeFile(path, func(w io.Writer) error {
			return plot.ForecastChart(w, sym, view)
		}); err != nil {
			errs = append(errs, err)
			continue
		}
		c.Logger.Info("forecast chart written", applogger.String("path", path))
	}
	return errors.Join(errs...)
}

// runAll is the whole workflow in one go. The endpoint is deleted at the
// end unless keep is set, also when a later step fails.
func runAll(ctx context.Context, c *di.Container, keep bool, html string) (err error) {
	if err := prepare(ctx, c, ""); err != nil {
		return err
	}
	job, err := train(ctx, c)
	if err != nil {
		return err
	}
	ep, err := deploy(ctx, c, job.Name, "")
	if ep != nil && !keep {
		defer func() {
			// The run context may already be cancelled.
			tctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if terr := c.Training.Teardown(tctx, ep.Name); terr != nil {
				err = errors.Join(err, terr)
			}
		}()
	}
	if err != nil {
		return err
	}
	return forecast(ctx, c, forecastFlags{html: html})
}

func printForecast(w io.Writer, view *models.ForecastView) {
	f := view.Forecast
	lower, median, upper := f.Quantiles[view.Lower], f.Quantiles["0.5"], f.Quantiles[view.Upper]

	fmt.Fprintf(w, "%s from %s (%d steps)", f.Symbol, f.Start.Format(time.RFC3339), f.Horizon())
	if view.Cached {
		fmt.Fprint(w, " [cached]")
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "time\tp%s\tmedian\tp%s\tactual\t\n", view.Lower, view.Upper)
	for i, t := range f.Index {
		actual := "-"
		if i < len(view.Actual) {
			actual = fmt.Sprintf("%.3f", view.Actual[i])
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n",
			t.Format("2006-01-02 15:04"), at(lower, i), at(median, i), at(upper, i), actual)
	}
	_ = tw.Flush()
	fmt.Fprintln(w)
}

func at(vs []float64, i int) string {
	if i >= len(vs) {
		return "-"
	}
	return fmt.Sprintf("%.3f", vs[i])
}

func writeFile(path string, render func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	return f.Close()
}
