package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lmfit/pkg/lmfit"
)

func preflightCmd() *cli.Command {
	var (
		modelName    string
		estimator    string
		fixedList    string
		numFits      int
		numPoints    int
		validCoefs   int
		userInfoSize int
		withWeights  bool
	)

	return &cli.Command{
		Name:  "preflight",
		Usage: "Check whether a batch fits in device memory and report its chunking",
		Flags: append(engineFlags(),
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model name (see lmfit models)", Required: true, Destination: &modelName},
			&cli.StringFlag{Name: "estimator", Usage: "estimator (lse, mle)", Value: "lse", Destination: &estimator},
			&cli.StringFlag{Name: "fixed", Usage: "comma separated indices of fixed parameters", Destination: &fixedList},
			&cli.IntFlag{Name: "fits", Aliases: []string{"n"}, Usage: "number of fits", Required: true, Destination: &numFits},
			&cli.IntFlag{Name: "points", Aliases: []string{"p"}, Usage: "points per fit", Required: true, Destination: &numPoints},
			&cli.IntFlag{Name: "valid-coefs", Usage: "polynomial coefficients in use (linear_1d)", Destination: &validCoefs},
			&cli.IntFlag{Name: "user-info-size", Usage: "size of the user info buffer in bytes", Destination: &userInfoSize},
			&cli.BoolFlag{Name: "weights", Usage: "account for a weights buffer", Destination: &withWeights},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			model, err := lmfit.ParseModel(modelName)
			if err != nil {
				return exitError(err)
			}
			est, err := lmfit.ParseEstimator(estimator)
			if err != nil {
				return exitError(err)
			}
			m, _ := lmfit.LookupModel(model)
			mask, err := parseMask(fixedList, m.NumParameters())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: --fixed: %v", err), 1)
			}

			fc, err := openContext(ctx, cmd)
			if err != nil {
				return exitError(err)
			}
			cfg := lmfit.Config{
				NumFits:         numFits,
				NumPoints:       numPoints,
				Model:           model,
				Estimator:       est,
				NumValidCoefs:   validCoefs,
				ParametersToFit: mask,
				Tolerance:       lmfit.DefaultTolerance,
				MaxIterations:   lmfit.DefaultMaxIterations,
				WithWeights:     withWeights,
				UserInfoSize:    userInfoSize,
			}

			ok, err := fc.IsMemorySufficient(cfg)
			if err != nil {
				return exitError(err)
			}
			if !ok {
				return cli.Exit(fmt.Sprintf("error: insufficient device memory for %d fits of %d points", numFits, numPoints), lmfit.Status(lmfit.ErrOutOfMemory))
			}
			info, err := fc.Configure(cfg)
			if err != nil {
				return exitError(err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}
