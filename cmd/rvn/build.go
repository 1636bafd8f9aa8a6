package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ravenlinux/rvn/internal/archive"
	"github.com/ravenlinux/rvn/internal/builddef"
	"github.com/ravenlinux/rvn/internal/rvnerr"
)

var buildCmd = &cobra.Command{
	Use:   "build <definition.yaml>",
	Short: "Build a .rvn archive from a local package build definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, _ := cmd.Flags().GetString("output")

		pkg, err := builddef.Load(args[0])
		if err != nil {
			return fail(err)
		}

		stage, err := os.MkdirTemp("", "rvn-build-*")
		if err != nil {
			return fail(&rvnerr.IOError{Path: stage, Cause: err})
		}
		defer os.RemoveAll(stage)

		meta, manifest, err := pkg.Stage(stage)
		if err != nil {
			return fail(err)
		}

		if outDir == "" {
			outDir = "."
		}
		outPath := filepath.Join(outDir, fmt.Sprintf("%s-%s.rvn", meta.Name, meta.Version))
		if err := archive.Create(meta, manifest, stage, outPath); err != nil {
			return fail(err)
		}

		log.WithField("pkg", meta.Name).Infof("built %s", outPath)
		return nil
	},
}

func init() {
	buildCmd.Flags().StringP("output", "o", "", "directory to write the built .rvn into (default: current directory)")
}
