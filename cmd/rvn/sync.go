package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ravenlinux/rvn/internal/repo"
	"github.com/ravenlinux/rvn/internal/store"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh every configured repository's index into the local DB mirror",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		c, err := newCore(defaultOptions())
		if err != nil {
			return fail(err)
		}
		defer c.Close()

		for _, r := range c.Config.Repositories {
			if !r.Enabled {
				continue
			}
			client := c.Repos.ClientByName(r.Name)
			if client == nil {
				continue
			}
			idx, err := client.FetchIndex(ctx)
			if err != nil {
				return fail(err)
			}
			if err := c.DB.ReplaceRepoIndex(ctx, r.Name, toRepoPackages(r.Name, idx.Packages)); err != nil {
				return fail(err)
			}
			log.WithField("repo", r.Name).Infof("synced %d packages", len(idx.Packages))
		}
		return nil
	},
}

func toRepoPackages(repoName string, pkgs []repo.Package) []store.RepoPackage {
	out := make([]store.RepoPackage, len(pkgs))
	for i, p := range pkgs {
		out[i] = store.RepoPackage{
			Repo:          repoName,
			Name:          p.Name,
			Version:       p.Version,
			Description:   p.Description,
			DownloadSize:  p.DownloadSize,
			InstalledSize: p.InstalledSize,
			Filename:      p.Filename,
			SHA256:        p.SHA256,
		}
	}
	return out
}
