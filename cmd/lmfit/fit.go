package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lmfit/internal/api"
	"github.com/samcharles93/lmfit/internal/logger"
	"github.com/samcharles93/lmfit/pkg/fitbatch"
	"github.com/samcharles93/lmfit/pkg/lmfit"
)

func fitCmd() *cli.Command {
	var (
		outPath        string
		jsonOut        bool
		standardErrors bool
		timeout        time.Duration
	)

	return &cli.Command{
		Name:      "fit",
		Usage:     "Fit every curve of a batch file",
		ArgsUsage: "<job.lmb>",
		Flags: append(engineFlags(),
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "results batch file (default <job>.results.lmb)",
				Destination: &outPath,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the results as JSON on stdout instead of writing a batch file",
				Destination: &jsonOut,
			},
			&cli.BoolFlag{
				Name:        "standard-errors",
				Usage:       "include parameter standard errors in the JSON output",
				Destination: &standardErrors,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "cancel the fit after this long (0 = no limit)",
				Destination: &timeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			inPath := cmd.Args().First()
			if inPath == "" {
				return cli.Exit("error: a job batch file is required", 1)
			}
			id := api.NewFitID()
			log := logger.FromContext(ctx).With("id", id)

			job, err := readJob(inPath)
			if err != nil {
				return exitError(err)
			}
			fc, err := openContext(ctx, cmd)
			if err != nil {
				return exitError(err)
			}

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			log.Info("fit started", "job", inPath, "model", job.Model, "fits", job.NumFits, "points", job.NumPoints)
			res, err := fc.Fit(ctx, job)
			if err != nil {
				return exitError(err)
			}
			log.Info("fit finished",
				"chunks", res.Chunks,
				"chunk_size", res.ChunkSize,
				"converged", fmt.Sprintf("%.1f%%", 100*res.ConvergedFraction()),
				"elapsed", res.Elapsed,
			)

			if jsonOut {
				resp := api.NewFitResponse(id, fc.Solver(), time.Now(), job, res, standardErrors)
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			out, _, err := resolveOutPath(inPath, outPath, resultsExt)
			if err != nil {
				return exitError(err)
			}
			if err := writeBatch(out, job, res); err != nil {
				return exitError(err)
			}
			log.Info("results written", "path", out)
			return printSummary(os.Stdout, res)
		},
	}
}

func readJob(path string) (*lmfit.Job, error) {
	bf, err := fitbatch.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open batch %s: %w", path, err)
	}
	defer func() { _ = bf.Close() }()
	return fitbatch.ReadJob(bf)
}

// writeBatch writes job and, when res is not nil, its results to path.
func writeBatch(path string, job *lmfit.Job, res *lmfit.Results) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w, err := fitbatch.NewWriter(f)
	if err != nil {
		return err
	}
	if err := fitbatch.WriteJob(w, job); err != nil {
		return err
	}
	if res != nil {
		if err := fitbatch.WriteResults(w, res); err != nil {
			return err
		}
	}
	return w.Finalise()
}
