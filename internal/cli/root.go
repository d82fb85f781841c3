package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aptcheck",
		Short: "Verify consistency and policy compliance of APT repositories",
		Long: `Aptcheck downloads the metadata of a Debian/APT repository and
verifies it without installing anything:

  - every Packages and Sources stanza parses and carries its
    mandatory fields
  - versions, dependency expressions and policy fields are valid
  - every dependency is satisfiable inside the repository snapshot
  - every binary links to a source package and vice versa

Issues are reported as errors and warnings; the exit code tells
scripts whether the repository is clean.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			verbose, _ := cmd.Flags().GetBool("verbose")
			quiet, _ := cmd.Flags().GetBool("quiet")
			switch {
			case verbose:
				logrus.SetLevel(logrus.DebugLevel)
			case quiet:
				logrus.SetLevel(logrus.ErrorLevel)
			default:
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Only log errors")

	// Add subcommands
	rootCmd.AddCommand(NewCheckCmd())

	return rootCmd
}
