package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	goCred "github.com/MrEthical07/goCred"
	"github.com/MrEthical07/goCred/passphrase"
	"github.com/MrEthical07/goCred/password"
	"github.com/MrEthical07/goCred/store/sqlstore"
)

func newPassphraseCmd(a *app) *cobra.Command {
	cfg := passphrase.DefaultConfig()
	var count int
	var dictPath string

	cmd := &cobra.Command{
		Use:   "passphrase",
		Short: "Generate structured passphrases",
		Long: `Generate passphrases from a format code. Each letter is one component:
C capitalized word, W word, D digit, S special character, M separator.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			dict, err := passphrase.LoadDictionary(dictPath)
			if err != nil {
				return err
			}
			gen, err := passphrase.NewGenerator(dict, cfg)
			if err != nil {
				return err
			}
			for i := 0; i < count; i++ {
				p, err := gen.Generate()
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.Format, "format", cfg.Format, "format code")
	cmd.Flags().IntVar(&count, "count", 1, "number of passphrases")
	cmd.Flags().StringVar(&dictPath, "dictionary", "", "word list file, one word per line")
	cmd.Flags().IntVar(&cfg.MinWordLength, "min", cfg.MinWordLength, "minimum word length")
	cmd.Flags().IntVar(&cfg.MaxWordLength, "max", cfg.MaxWordLength, "maximum word length")
	cmd.Flags().StringVar(&cfg.Separator, "separator", cfg.Separator, "separator between components")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	var username, candidate string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a password against the policy",
		Long: `Check a password against the complexity and username rules. The password
is read from stdin when --password is not given. Exits 1 on any violation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if candidate == "" {
				secret, err := a.readSecret()
				if err != nil {
					return err
				}
				candidate = secret
			}
			reasons := password.NewPolicyValidator(nil).Validate(candidate, password.Subject{Username: username}, nil)
			if len(reasons) == 0 {
				fmt.Fprintln(a.stdout, "ok")
				return nil
			}
			for _, r := range reasons {
				fmt.Fprintf(a.stdout, "%s: %s\n", r, r.Message())
			}
			return errViolations
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "account username")
	cmd.Flags().StringVar(&candidate, "password", "", "candidate password")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newHashCmd(a *app) *cobra.Command {
	var algorithm string

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Hash a password read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if algorithm != "" {
				cfg.Password.Algorithm = algorithm
			}
			hasher, err := goCred.NewHasher(cfg.Password)
			if err != nil {
				return err
			}
			secret, err := a.readSecret()
			if err != nil {
				return err
			}
			encoded, err := hasher.Hash(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, encoded)
			return nil
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "argon2id or bcrypt (default from config)")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	var driver, dsn string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := a.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			store, err := sqlstore.Open(ctx, driver, dsn)
			if err != nil {
				logger.Error("migration failed", zap.String("driver", driver), zap.Error(err))
				return err
			}
			defer store.Close()

			logger.Info("schema up to date", zap.String("driver", driver))
			fmt.Fprintf(a.stdout, "%s schema up to date\n", driver)
			return nil
		},
	}
	cmd.Flags().StringVar(&driver, "driver", sqlstore.DriverSQLite, "postgres or sqlite")
	cmd.Flags().StringVar(&dsn, "dsn", "", "data source name")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	_ = cmd.MarkFlagRequired("dsn")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after applying the --config file and GOCRED_*
environment overrides on top of the defaults. The change ticket signing key
is redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if cfg.ChangeTicket.SigningKey != "" {
				cfg.ChangeTicket.SigningKey = "REDACTED"
			}
			settings := goCred.ConfigSettings(cfg)

			switch output {
			case "yaml":
				enc := yaml.NewEncoder(a.stdout)
				enc.SetIndent(2)
				if err := enc.Encode(settings); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(settings)
			default:
				return fmt.Errorf("unknown output %q", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "yaml or json")
	return cmd
}
