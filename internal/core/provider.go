package core

import (
	"context"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/ravenlinux/rvn/internal/aur"
	"github.com/ravenlinux/rvn/internal/repo"
	"github.com/ravenlinux/rvn/internal/resolver"
)

// Provider adapts repo.MultiRepoClient and aur.Client into a single
// resolver.PackageProvider, so the resolver stays decoupled from both
// network and process-spawning concerns. A name found in a configured
// repository never falls through to AUR; only a miss there triggers the
// AUR RPC lookup and, if that hits, a full build-and-cache materialize —
// the resolver sees only the resulting Candidate, already staged in the
// archive cache by the time Install ever names it.
type Provider struct {
	Repos *repo.MultiRepoClient
	AUR   *aur.Client
	Log   *logrus.Entry
}

var _ resolver.PackageProvider = Provider{}

// Find implements resolver.PackageProvider.
func (p Provider) Find(ctx context.Context, name string) (resolver.Candidate, bool, error) {
	if client, pkg, err := p.Repos.FindPackage(ctx, name); err != nil {
		return resolver.Candidate{}, false, err
	} else if pkg != nil {
		return resolver.Candidate{
			Name:         pkg.Name,
			Version:      pkg.Version,
			Source:       resolver.SourceRepo,
			Repo:         client.Name,
			Filename:     pkg.Filename,
			SHA256:       pkg.SHA256,
			Size:         pkg.DownloadSize,
			Dependencies: pkg.Dependencies,
		}, true, nil
	}

	if p.AUR == nil {
		return resolver.Candidate{}, false, nil
	}

	info, err := p.AUR.Info(ctx, name)
	if err != nil {
		return resolver.Candidate{}, false, err
	}
	if info == nil {
		return resolver.Candidate{}, false, nil
	}

	mat, err := p.AUR.Materialize(ctx, name, makepkgBuild(p.Log))
	if err != nil {
		return resolver.Candidate{}, false, err
	}

	return resolver.Candidate{
		Name:         mat.Name,
		Version:      mat.Version,
		Source:       resolver.SourceAUR,
		Repo:         "aur",
		Filename:     mat.Filename,
		SHA256:       mat.SHA256,
		Size:         mat.InstalledSize,
		Dependencies: mat.Dependencies,
	}, true, nil
}

// makepkgBuild returns an aur.BuildFunc that shells out to makepkg, the
// distribution-provided build driver spec.md §4.6 leaves unspecified: run
// it against the cloned PKGBUILD tree with packaging (not installation)
// only, then hand the resulting package tree to the caller via outDir.
func makepkgBuild(log *logrus.Entry) aur.BuildFunc {
	return func(ctx context.Context, pkgDir, outDir string) error {
		cmd := exec.CommandContext(ctx, "makepkg", "--nodeps", "--noconfirm", "--syncdeps=false")
		cmd.Dir = pkgDir
		cmd.Env = append(cmd.Env, "PKGDEST="+outDir)
		out, err := cmd.CombinedOutput()
		if err != nil {
			log.WithError(err).WithField("pkgdir", pkgDir).Debug("makepkg failed")
			return err
		}
		log.WithField("pkgdir", pkgDir).Trace(string(out))
		return nil
	}
}
