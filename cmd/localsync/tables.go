package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newTablesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the configured tables with their primary key and remote path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			for _, name := range a.index.Tables() {
				pk, _ := a.index.PrimaryKey(name)
				path, _ := a.index.RemotePath(name)
				fields, _ := a.index.PersistedFields(name)
				fmt.Fprintf(out, "%s\tpk=%s\tpath=%s\tfields=%s\n", name, pk, path, strings.Join(fields, ","))
			}
			return nil
		},
	}
}
