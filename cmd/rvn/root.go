// Command rvn is the RavenLinux package manager: install, remove, upgrade,
// search, and locally build .rvn packages against a configured set of
// repositories plus an AUR fallback.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ravenlinux/rvn/internal/config"
	"github.com/ravenlinux/rvn/internal/core"
	"github.com/ravenlinux/rvn/internal/rvnerr"
)

var (
	configPath string
	verbose    bool
	log        = logrus.New()
)

// rootCmd is the base command when rvn is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "rvn",
	Short: "RavenLinux package manager",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to config.toml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(installCmd, removeCmd, upgradeCmd, syncCmd, searchCmd, infoCmd, listCmd, cleanCmd, buildCmd)
}

func main() {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		os.Exit(rvnerr.ExitCode(unwrapCmdError(err)))
	}
}

// unwrapCmdError recovers the underlying *rvnerr type that fail wrapped in
// a *cmdError, so ExitCode still sees the original type.
func unwrapCmdError(err error) error {
	if ce, ok := err.(*cmdError); ok {
		return ce.cause
	}
	return err
}

// cmdError marks an error as already logged by the RunE that produced it.
// cobra's own "Error: ..." line is suppressed by rootCmd.SilenceErrors.
type cmdError struct{ cause error }

func (e *cmdError) Error() string { return e.cause.Error() }

// fail logs err with structured fields and returns a *cmdError wrapping it
// for main to translate into the right process exit code.
func fail(err error) error {
	log.WithError(err).Error("rvn failed")
	return &cmdError{cause: err}
}

func newCore(opts core.Options) (*core.Core, error) {
	opts.ConfigPath = configPath
	return core.New(opts, logrus.NewEntry(log))
}

// defaultOptions returns the production core.Options: live root filesystem,
// real lock, default config path (overridable via --config).
func defaultOptions() core.Options {
	return core.Options{Root: "/"}
}
