// Package lmfit fits large batches of short curves with the
// Levenberg-Marquardt algorithm.
//
// All fits of a chunk advance in lockstep on a data-parallel device: every
// stage of an iteration is one kernel launch over the whole chunk, and fits
// that already reached a terminal state stay resident and skip the work.
// When the population does not fit in device memory, Context.Fit partitions
// it into consecutive chunks sized by Configure and processes them in index
// order, so results never depend on the chunk layout.
//
// A typical run:
//
//	ctx, err := lmfit.Open("auto", lmfit.DefaultOptions(), lmfit.HostOptions{})
//	job, err := lmfit.NewJob(lmfit.Exp1D, numFits, numPoints)
//	// fill job.Data, job.InitialParameters and job.UserInfo
//	res, err := ctx.Fit(context.Background(), job)
package lmfit
