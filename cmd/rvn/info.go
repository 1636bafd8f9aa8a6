package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ravenlinux/rvn/internal/rvnerr"
)

var infoCmd = &cobra.Command{
	Use:   "info <package>",
	Short: "Show details for a package from the installed DB, a repository, or AUR",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		name := args[0]

		c, err := newCore(defaultOptions())
		if err != nil {
			return fail(err)
		}
		defer c.Close()

		if installed, err := c.DB.IsInstalled(ctx, name); err != nil {
			return fail(err)
		} else if installed {
			version, _, err := c.DB.VersionOf(ctx, name)
			if err != nil {
				return fail(err)
			}
			fmt.Printf("%s %s (installed)\n", name, version)
			return nil
		}

		if _, pkg, err := c.Repos.FindPackage(ctx, name); err != nil {
			return fail(err)
		} else if pkg != nil {
			fmt.Printf("%s %s - %s\n", pkg.Name, pkg.Version, pkg.Description)
			return nil
		}

		if c.AUR != nil {
			pkg, err := c.AUR.Info(ctx, name)
			if err != nil {
				return fail(err)
			}
			if pkg != nil {
				fmt.Printf("%s %s - %s (aur)\n", pkg.Name, pkg.Version, pkg.Description)
				return nil
			}
		}

		return fail(&rvnerr.NotFound{Name: name})
	},
}
