package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ravenlinux/rvn/internal/resolver"
	"github.com/ravenlinux/rvn/internal/store"
)

var removeCmd = &cobra.Command{
	Use:     "remove <package>...",
	Aliases: []string{"rm"},
	Short:   "Remove one or more installed packages",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		purge, _ := cmd.Flags().GetBool("purge")

		c, err := newCore(defaultOptions())
		if err != nil {
			return fail(err)
		}
		defer c.Close()

		installed, err := c.DB.ListInstalled(ctx, false)
		if err != nil {
			return fail(err)
		}

		var nodes []resolver.InstalledNode
		for _, pkg := range installed {
			deps, err := c.DB.DependenciesOf(ctx, pkg.Name)
			if err != nil {
				return fail(err)
			}
			nodes = append(nodes, resolver.InstalledNode{
				Name:      pkg.Name,
				Explicit:  pkg.Explicit,
				DependsOn: dependencyNames(deps),
			})
		}

		targets := resolver.FindOrphans(nodes, args, purge)
		for _, name := range targets {
			log.WithField("pkg", name).Info("planned removal")
		}

		if err := c.Txn.Remove(ctx, targets); err != nil {
			return fail(err)
		}

		log.Infof("removed %d package(s)", len(targets))
		return nil
	},
}

func init() {
	removeCmd.Flags().Bool("purge", false, "also remove dependencies no longer needed by anything")
}

func dependencyNames(deps []store.Dependency) []string {
	out := make([]string, len(deps))
	for i, d := range deps {
		out[i] = d.DependsOn
	}
	return out
}
