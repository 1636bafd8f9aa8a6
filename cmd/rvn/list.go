package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		explicitOnly, _ := cmd.Flags().GetBool("explicit")

		c, err := newCore(defaultOptions())
		if err != nil {
			return fail(err)
		}
		defer c.Close()

		pkgs, err := c.DB.ListInstalled(ctx, explicitOnly)
		if err != nil {
			return fail(err)
		}
		for _, p := range pkgs {
			tag := "dependency"
			if p.Explicit {
				tag = "explicit"
			}
			fmt.Printf("%s %s (%s)\n", p.Name, p.Version, tag)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("explicit", false, "only show explicitly installed packages")
}
