package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lmfit/internal/logger"
	"github.com/samcharles93/lmfit/internal/synth"
	"github.com/samcharles93/lmfit/pkg/lmfit"
)

// defaultTruth gives every built-in model a sensible curve to draw around.
var defaultTruth = map[lmfit.ModelID][]float64{
	lmfit.Gauss1D:  {10, 25, 4, 1},
	lmfit.Linear1D: {1, 0.5, 0, 0, 0, 0, 0, 0},
	lmfit.Exp1D:    {100, 10, 5},
	lmfit.Exp2D:    {80, 3, 40, 20, 2},
	lmfit.ACF3D:    {0.5, 1, 5, 1},
}

func synthCmd() *cli.Command {
	var (
		outPath   string
		modelName string
		estimator string
		layout    string
		noiseName string
		truthList string
		fixedList string
		numFits   int
		numPoints int
		validCoef int
		spread    float64
		sigma     float64
		jitter    float64
		xStep     float64
		seed      int64
	)

	return &cli.Command{
		Name:  "synth",
		Usage: "Write a batch file of synthetic noisy curves",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output batch file", Required: true, Destination: &outPath},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model name (see lmfit models)", Value: "exp_1d", Destination: &modelName},
			&cli.StringFlag{Name: "estimator", Usage: "estimator (lse, mle)", Value: "lse", Destination: &estimator},
			&cli.StringFlag{Name: "layout", Usage: "data layout (fit_major, point_major)", Value: "fit_major", Destination: &layout},
			&cli.StringFlag{Name: "noise", Usage: "noise (none, gaussian, poisson)", Value: "gaussian", Destination: &noiseName},
			&cli.StringFlag{Name: "truth", Usage: "comma separated true parameters (default per model)", Destination: &truthList},
			&cli.StringFlag{Name: "fixed", Usage: "comma separated indices of fixed parameters", Destination: &fixedList},
			&cli.IntFlag{Name: "fits", Aliases: []string{"n"}, Usage: "number of fits", Value: 1000, Destination: &numFits},
			&cli.IntFlag{Name: "points", Aliases: []string{"p"}, Usage: "points per fit", Value: 50, Destination: &numPoints},
			&cli.IntFlag{Name: "valid-coefs", Usage: "polynomial coefficients in use (linear_1d)", Destination: &validCoef},
			&cli.Float64Flag{Name: "spread", Usage: "relative spread of the true parameters across fits", Value: 0.2, Destination: &spread},
			&cli.Float64Flag{Name: "sigma", Usage: "gaussian noise standard deviation", Value: 1, Destination: &sigma},
			&cli.Float64Flag{Name: "jitter", Usage: "relative perturbation of the initial parameters", Value: 0.2, Destination: &jitter},
			&cli.Float64Flag{Name: "x-step", Usage: "spacing of the x values", Value: 1, Destination: &xStep},
			&cli.Int64Flag{Name: "seed", Usage: "random seed", Value: 1, Destination: &seed},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			spec, err := synthSpec(modelName, estimator, layout, noiseName, truthList, fixedList)
			if err != nil {
				return exitError(err)
			}
			spec.NumFits = numFits
			spec.NumPoints = numPoints
			spec.NumValidCoefs = validCoef
			if spec.Model == lmfit.Linear1D {
				if spec.NumValidCoefs == 0 {
					spec.NumValidCoefs = 2
				}
				if spec.ParametersToFit == nil {
					spec.ParametersToFit = make([]bool, lmfit.MaxPolynomialCoefs)
					for k := range min(spec.NumValidCoefs, lmfit.MaxPolynomialCoefs) {
						spec.ParametersToFit[k] = true
					}
				}
			}
			spec.Spread = spread
			spec.Sigma = sigma
			spec.InitialJitter = jitter
			spec.Seed = uint64(seed)
			if xStep != 1 {
				spec.X = make([]float64, numPoints)
				for k := range spec.X {
					spec.X[k] = float64(k) * xStep
				}
			}

			set, err := synth.Generate(spec)
			if err != nil {
				return exitError(err)
			}
			if err := writeBatch(outPath, set.Job, nil); err != nil {
				return exitError(err)
			}
			log.Info("batch written",
				"path", outPath,
				"model", spec.Model,
				"fits", numFits,
				"points", numPoints,
				"noise", spec.Noise,
			)
			return nil
		},
	}
}

func synthSpec(modelName, estimator, layout, noiseName, truthList, fixedList string) (synth.Spec, error) {
	var spec synth.Spec
	model, err := lmfit.ParseModel(modelName)
	if err != nil {
		return spec, err
	}
	m, _ := lmfit.LookupModel(model)
	spec.Model = model
	if spec.Estimator, err = lmfit.ParseEstimator(estimator); err != nil {
		return spec, err
	}
	if spec.Layout, err = lmfit.ParseLayout(layout); err != nil {
		return spec, err
	}
	if spec.Noise, err = synth.ParseNoise(noiseName); err != nil {
		return spec, err
	}
	if spec.Truth, err = parseFloats(truthList); err != nil {
		return spec, fmt.Errorf("--truth: %w", err)
	}
	if spec.Truth == nil {
		spec.Truth = defaultTruth[model]
	}
	if spec.Truth == nil {
		return spec, fmt.Errorf("--truth is required for model %s", m.Name())
	}
	if fixedList != "" {
		if spec.ParametersToFit, err = parseMask(fixedList, m.NumParameters()); err != nil {
			return spec, fmt.Errorf("--fixed: %w", err)
		}
	}
	return spec, nil
}
