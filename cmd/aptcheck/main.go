package main

import (
	"errors"
	"os"

	"github.com/apt-tools/aptcheck/internal/cli"
	"github.com/sirupsen/logrus"
)

// Exit codes: 0 the repository is clean, 1 issues were found, 2 the run
// itself failed (bad configuration, network, signature).
func main() {
	// Setup logging format
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	rootCmd := cli.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		if errors.Is(err, cli.ErrIssuesFound) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}
