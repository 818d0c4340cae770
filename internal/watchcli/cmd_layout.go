package watchcli

import (
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pgpathwatch/pgpathwatch/internal/pglayout"
)

// layoutCommand resolves and prints the layout for a binary without
// attaching anything. Useful for checking a server before tracing it.
func layoutCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "layout <postgres-binary>",
		Short: "Resolve and print the struct layout for a postgres binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
			if verbose {
				logger = level.NewFilter(logger, level.AllowDebug())
			} else {
				logger = level.NewFilter(logger, level.AllowInfo())
			}

			layout, err := pglayout.Resolve(logger, args[0])
			if err != nil {
				return err
			}

			view := struct {
				MajorVersion int                    `yaml:"major_version"`
				Source       string                 `yaml:"source"`
				Functions    map[string]string      `yaml:"functions"`
				Fields       pglayout.FieldOffsets  `yaml:"fields"`
			}{
				MajorVersion: layout.MajorVersion,
				Source:       layout.Source,
				Functions: map[string]string{
					pglayout.SymAddPath:        fmt.Sprintf("%#x", layout.Funcs.AddPath),
					pglayout.SymSetRelPathlist: fmt.Sprintf("%#x", layout.Funcs.SetRelPathlist),
					pglayout.SymCreatePlan:     fmt.Sprintf("%#x", layout.Funcs.CreatePlan),
				},
				Fields: layout.Fields,
			}
			enc := yaml.NewEncoder(os.Stdout)
			defer enc.Close()
			return enc.Encode(view)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}
