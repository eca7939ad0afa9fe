package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pawsitivecheck/querycache/invalidation"
)

var depsFormat string

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Print the resolved dependency map",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := loadDeps()
		if err != nil {
			return err
		}
		out, err := deps.Encode(invalidation.Format(strings.ToLower(depsFormat)))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))

		for _, family := range deps.AllFamilies() {
			if related := deps.Dependents(family); len(related) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s -> %s\n", family, strings.Join(related, ", "))
			}
		}
		return nil
	},
}

func init() {
	depsCmd.Flags().StringVar(&depsFormat, "format", "yaml", "Output format: yaml or toml")
}
