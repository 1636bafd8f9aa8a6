package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search configured repositories by name (and description, with --description)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		includeDesc, _ := cmd.Flags().GetBool("description")

		c, err := newCore(defaultOptions())
		if err != nil {
			return fail(err)
		}
		defer c.Close()

		results := c.Repos.Search(ctx, args[0], includeDesc)
		for _, r := range results {
			fmt.Printf("%s/%s %s - %s\n", r.Repo, r.Name, r.Version, r.Description)
		}
		if c.AUR != nil && c.Config.AUR.Enabled {
			aurResults, err := c.AUR.Search(ctx, args[0])
			if err != nil {
				log.WithError(err).Warn("AUR search failed")
			}
			for _, r := range aurResults {
				fmt.Printf("aur/%s %s - %s\n", r.Name, r.Version, r.Description)
			}
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Bool("description", false, "also match against package descriptions")
}
