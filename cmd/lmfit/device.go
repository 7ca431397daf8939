package main

import (
	"context"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lmfit/internal/device"
)

type deviceReport struct {
	Device       device.Info     `json:"device"`
	GPUAvailable bool            `json:"gpu_available"`
	Solver       string          `json:"solver"`
	Memory       device.MemStats `json:"memory"`
}

func deviceCmd() *cli.Command {
	var jsonOut bool

	return &cli.Command{
		Name:  "device",
		Usage: "Show the device fits would run on",
		Flags: append(engineFlags(),
			&cli.BoolFlag{Name: "json", Usage: "print as JSON", Destination: &jsonOut},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fc, err := openContext(ctx, cmd)
			if err != nil {
				return exitError(err)
			}
			report := deviceReport{
				Device:       fc.Device(),
				GPUAvailable: fc.GPUAvailable(),
				Solver:       fc.Solver(),
				Memory:       fc.MemStats(),
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			info := report.Device
			runtime := "n/a"
			if v, err := fc.DeviceVersion(); err == nil {
				runtime = v.String()
			}
			driver := "n/a"
			if info.Driver != (device.Version{}) {
				driver = info.Driver.String()
			}
			table := newTable(os.Stdout, []string{"PROPERTY", "VALUE"})
			table.AppendBulk([][]string{
				{"kind", info.Kind},
				{"name", info.Name},
				{"description", info.Description},
				{"gpu available", strconv.FormatBool(report.GPUAvailable)},
				{"compute", info.Compute()},
				{"runtime", runtime},
				{"driver", driver},
				{"workers", strconv.Itoa(info.Workers)},
				{"max threads per block", strconv.Itoa(info.MaxThreadsPerBlock)},
				{"warp size", strconv.Itoa(info.WarpSize)},
				{"solver", report.Solver},
				{"memory budget", formatBytes(report.Memory.Budget)},
				{"memory live", formatBytes(report.Memory.Live)},
				{"memory peak", formatBytes(report.Memory.Peak)},
			})
			table.Render()
			return nil
		},
	}
}
