package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ravenlinux/rvn/internal/resolver"
	"github.com/ravenlinux/rvn/internal/version"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [package]...",
	Short: "Upgrade one package, or every explicitly installed package, to the latest resolvable version",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		c, err := newCore(defaultOptions())
		if err != nil {
			return fail(err)
		}
		defer c.Close()

		targets := args
		if len(targets) == 0 {
			explicit, err := c.DB.ListInstalled(ctx, true)
			if err != nil {
				return fail(err)
			}
			for _, p := range explicit {
				targets = append(targets, p.Name)
			}
		}
		if len(targets) == 0 {
			log.Info("nothing installed to upgrade")
			return nil
		}

		plan, err := resolver.Resolve(ctx, alwaysNotInstalled{}, c.Provider, targets)
		if err != nil {
			return fail(err)
		}

		var toUpgrade resolver.Plan
		for _, action := range plan {
			installedVersion, ok, err := c.DB.VersionOf(ctx, action.Name)
			if err != nil {
				return fail(err)
			}
			if ok && !version.Newer(action.Version, installedVersion) {
				continue
			}
			toUpgrade = append(toUpgrade, action)
		}
		if len(toUpgrade) == 0 {
			log.Info("already at the latest resolvable version")
			return nil
		}

		for _, action := range toUpgrade {
			log.WithField("pkg", action.Name).WithField("version", action.Version).Info("planned upgrade")
		}

		if err := c.Txn.Install(ctx, toUpgrade); err != nil {
			return fail(err)
		}
		log.Infof("upgraded %d package(s)", len(toUpgrade))
		return nil
	},
}

// alwaysNotInstalled makes resolver.Resolve compute a candidate for every
// requested name (and its dependencies) regardless of the installed DB, so
// upgrade can compare the resolved version against the installed one
// itself rather than have the resolver silently skip up-to-date names.
type alwaysNotInstalled struct{}

func (alwaysNotInstalled) IsInstalled(ctx context.Context, name string) (bool, error) {
	return false, nil
}
