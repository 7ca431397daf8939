package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lmfit/internal/device"
	"github.com/samcharles93/lmfit/internal/logger"
	"github.com/samcharles93/lmfit/pkg/lmfit"
)

// engineOptions resolves the engine flags, with config file defaults, into
// fitting and host device options.
func engineOptions(ctx context.Context, cmd *cli.Command) (lmfit.Options, device.HostOptions, error) {
	applyEngineConfig(cmd, fileConfig)

	opts := lmfit.DefaultOptions()
	opts.Solver = solverName
	opts.MemoryMargin = memoryMargin
	opts.MaxChunkSize = maxChunkSize
	opts.Logger = logger.FromContext(ctx)

	reserve, err := parseSize(memoryReserve)
	if err != nil {
		return opts, device.HostOptions{}, fmt.Errorf("--memory-reserve: %w", err)
	}
	opts.MemoryReserve = reserve

	budget, err := parseSize(memoryBudget)
	if err != nil {
		return opts, device.HostOptions{}, fmt.Errorf("--memory-budget: %w", err)
	}
	return opts, device.HostOptions{MemoryBudget: budget, Workers: workers}, nil
}

func openContext(ctx context.Context, cmd *cli.Command) (*lmfit.Context, error) {
	opts, host, err := engineOptions(ctx, cmd)
	if err != nil {
		return nil, err
	}
	fc, err := lmfit.Open(deviceName, opts, host)
	if err != nil {
		return nil, err
	}
	info := fc.Device()
	logger.FromContext(ctx).Debug("device opened",
		"kind", info.Kind,
		"name", info.Name,
		"solver", fc.Solver(),
		"workers", info.Workers,
	)
	return fc, nil
}
