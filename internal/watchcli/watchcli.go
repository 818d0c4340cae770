// Package watchcli is the entrypoint for pgpathwatch.
package watchcli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgpathwatch/pgpathwatch/internal/build"
)

func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     fmt.Sprintf("%s [global options] <subcommand>", os.Args[0]),
		Short:   "pgpathwatch traces the plan alternatives a PostgreSQL planner considers",
		Version: build.Print("pgpathwatch"),

		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}
	cmd.SetVersionTemplate("{{ .Version }}\n")

	cmd.AddCommand(
		runCommand(),
		layoutCommand(),
	)

	return cmd
}

// Run is the entrypoint invoked by main. It exits the process on error.
func Run() {
	if err := Command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
