package main

import (
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Evict every cached archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newCore(defaultOptions())
		if err != nil {
			return fail(err)
		}
		defer c.Close()

		removed, err := c.Cache.Clean()
		if err != nil {
			return fail(err)
		}
		log.Infof("removed %d cached archive(s)", removed)
		return nil
	},
}
