package main

import (
	"context"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lmfit/pkg/lmfit"
)

func modelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "models",
		Aliases: []string{"ls"},
		Usage:   "List the registered fit models",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			table := newTable(os.Stdout, []string{"ID", "NAME", "PARAMETERS"})
			for _, m := range lmfit.Models() {
				table.Append([]string{strconv.Itoa(int(m.ID)), m.Name, strconv.Itoa(m.NumParameters)})
			}
			table.Render()
			return nil
		},
	}
}
