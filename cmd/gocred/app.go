package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	goCred "github.com/MrEthical07/goCred"
)

// errViolations makes check exit non-zero without printing a second error.
var errViolations = errors.New("password violates policy")

type app struct {
	stdin  *bufio.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: bufio.NewReader(stdin), stdout: stdout, stderr: stderr}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "gocred",
		Short:         "Credential lifecycle tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `gocred generates passphrases, checks passwords against the policy,
hashes secrets, migrates SQL stores and prints the effective configuration.

Examples:
  gocred passphrase --count 5
  gocred check --username alice --password 'Correct-horse1'
  echo 'Correct-horse1' | gocred hash --algorithm bcrypt
  gocred migrate --driver sqlite --dsn ./gocred.db
  gocred config --config gocred.yaml`,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (yaml, toml or json)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level for diagnostics on stderr")
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.AddCommand(newPassphraseCmd(a))
	root.AddCommand(newCheckCmd(a))
	root.AddCommand(newHashCmd(a))
	root.AddCommand(newMigrateCmd(a))
	root.AddCommand(newConfigCmd(a))
	return root
}

func (a *app) config() (goCred.Config, error) {
	return goCred.LoadConfig(a.configPath)
}

func (a *app) logger() (*zap.Logger, error) {
	return goCred.NewLogger(goCred.LoggingConfig{Level: a.logLevel, Format: "console"})
}

// readSecret returns the first line of stdin.
func (a *app) readSecret() (string, error) {
	line, err := a.stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no password on stdin")
	}
	return line, nil
}
