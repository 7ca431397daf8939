package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lmfit/pkg/lmfit"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// printSummary lists the number of fits per final state.
func printSummary(w io.Writer, res *lmfit.Results) error {
	summary := res.Summary()
	table := newTable(w, []string{"STATE", "FITS"})
	for _, s := range lmfit.States() {
		if s == lmfit.Running {
			continue
		}
		table.Append([]string{s.String(), strconv.Itoa(summary[s.String()])})
	}
	table.Render()
	_, err := fmt.Fprintf(w, "\n%d fits in %d chunk(s) of up to %d, %s\n",
		len(res.States), res.Chunks, res.ChunkSize, res.Elapsed.Round(time.Microsecond))
	return err
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// exitStatus is the process exit code for err: the fit status code for
// classified failures, 1 for everything else.
func exitStatus(err error) int {
	if lmfit.ClassOf(err) == 0 && lmfit.Status(err) == 4 {
		return 1
	}
	return lmfit.Status(err)
}

func exitError(err error) error {
	return cli.Exit(fmt.Sprintf("error: %v", err), exitStatus(err))
}
