package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ravenlinux/rvn/internal/resolver"
)

var installCmd = &cobra.Command{
	Use:   "install <package>...",
	Short: "Resolve and install one or more packages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		c, err := newCore(defaultOptions())
		if err != nil {
			return fail(err)
		}
		defer c.Close()

		plan, err := resolver.Resolve(ctx, c.DB, c.Provider, args)
		if err != nil {
			return fail(err)
		}
		if len(plan) == 0 {
			log.Info("nothing to do: all requested packages already installed")
			return nil
		}

		for _, action := range plan {
			log.WithField("pkg", action.Name).WithField("version", action.Version).Info("planned install")
		}

		if err := c.Txn.Install(ctx, plan); err != nil {
			return fail(err)
		}

		log.Infof("installed %d package(s)", len(plan))
		return nil
	},
}
