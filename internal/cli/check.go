package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apt-tools/aptcheck/internal/check"
	"github.com/apt-tools/aptcheck/internal/fetch"
	"github.com/apt-tools/aptcheck/internal/models"
)

// ErrIssuesFound signals a completed run that reported at least one
// diagnostic. The main package maps it to a distinct exit code so scripts
// can tell a dirty repository from a failed run.
var ErrIssuesFound = errors.New("issues found")

// NewCheckCmd creates the check command
func NewCheckCmd() *cobra.Command {
	var config models.CheckConfig
	var configFile string

	cmd := &cobra.Command{
		Use:   "check <repository-url>",
		Short: "Check a repository",
		Long: `Fetches the Release file and all in-scope Packages and Sources
indices of the repository, then verifies syntax, policy compliance and
cross-package consistency.

Examples:
  aptcheck check http://deb.example.org/debian --suite bookworm
  aptcheck check https://pkgs.example.org/apt --path ./ --key archive.gpg`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				config.RepoURL = args[0]
			}
			if configFile != "" {
				if err := config.LoadConfigFile(configFile); err != nil {
					return err
				}
			}
			if err := config.Validate(); err != nil {
				return err
			}

			logrus.Debugf("Configuration: %+v", config)
			return runCheck(cmd, &config)
		},
	}

	// Repository selection flags
	cmd.Flags().StringVarP(&config.Suite, "suite", "s", "", "Suite or codename under dists/")
	cmd.Flags().StringVar(&config.FlatPath, "path", "", "Path of a flat repository (use ./ for the root)")
	cmd.Flags().StringSliceVarP(&config.Components, "component", "c", nil, "Components to check (default: all declared)")
	cmd.Flags().StringSliceVarP(&config.Architectures, "arch", "a", nil, "Architectures to check (default: all declared)")
	cmd.Flags().StringVar(&configFile, "config", "", "YAML configuration file")

	// Signature flags
	cmd.Flags().StringVarP(&config.KeyPath, "key", "k", "", "OpenPGP key used to verify the release signature")
	cmd.Flags().BoolVar(&config.RawKey, "raw-key", false, "Treat the key file as binary instead of armored")
	cmd.Flags().BoolVar(&config.NoVerify, "no-verify", false, "Skip signature verification")

	// Check behaviour flags
	cmd.Flags().StringVar(&config.PolicyVersion, "policy", "", "Policy rule set version (default: newest)")
	cmd.Flags().StringToStringVar(&config.SeverityOverrides, "severity", nil, "Override category severity, e.g. consistency=ignore")
	cmd.Flags().StringVar(&config.RecommendsSeverity, "recommends", "", "Severity of unresolved Recommends (error, warning, ignore)")
	cmd.Flags().StringVar(&config.SuggestsSeverity, "suggests", "", "Severity of unresolved Suggests (error, warning, ignore)")
	cmd.Flags().BoolVar(&config.CheckFiles, "check-files", false, "Probe every referenced package file")
	cmd.Flags().BoolVar(&config.InspectDebs, "inspect-debs", false, "Download packages and compare their control data")

	// Output flags
	cmd.Flags().StringVarP(&config.OutputPath, "output", "o", "", "Write the JSON report to this file")

	return cmd
}

func runCheck(cmd *cobra.Command, config *models.CheckConfig) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var keyring *fetch.Keyring
	if config.KeyPath != "" && !config.NoVerify {
		var err error
		keyring, err = fetch.LoadKeyring(config.KeyPath, config.RawKey)
		if err != nil {
			return err
		}
	}

	client := fetch.NewClient()
	defer client.Close()
	checker, err := check.New(config, client, keyring)
	if err != nil {
		return err
	}

	logrus.Infof("Checking %s", config.RepoURL)
	result, err := checker.Run(ctx)
	if err != nil {
		return err
	}

	if config.OutputPath != "" {
		if err := result.WriteFile(config.OutputPath); err != nil {
			return &models.CheckError{Type: models.ErrReport, Context: config.OutputPath, Err: err}
		}
		logrus.Infof("Report written to %s", config.OutputPath)
	}

	if !result.Clean() {
		return fmt.Errorf("%w: %d errors, %d warnings",
			ErrIssuesFound, result.Summary.Errors, result.Summary.Warnings)
	}
	logrus.Info("Repository is clean")
	return nil
}
