// Package cli implements the betterimap command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ikatson/betterimap/internal/config"
	"github.com/ikatson/betterimap/pkg/credentials"
	"github.com/ikatson/betterimap/pkg/imap"
	"github.com/ikatson/betterimap/pkg/imap/sessionmgr"
)

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "betterimap",
	Short: "betterimap is a command-line IMAP mailbox client",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newClient assembles a client from the environment and, when a config file
// is given, its OAuth2 block.
func newClient(logger *slog.Logger) (*imap.Client, error) {
	env, err := config.IMAPEnvFromEnv()
	if err != nil {
		return nil, err
	}

	opts := []imap.Option{
		imap.WithAddr(env.Addr()),
		imap.WithLogger(logger),
	}
	switch env.Security {
	case "starttls":
		opts = append(opts, imap.WithSecurity(sessionmgr.SecurityStartTLS))
	case "insecure":
		opts = append(opts, imap.WithSecurity(sessionmgr.SecurityInsecure))
	}

	var oauth *config.OAuth2
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		oauth = cfg.OAuth2
	}

	switch {
	case oauth != nil:
		provider := credentials.NewProvider(credentials.OAuth2{
			Username:     env.User,
			AccessToken:  oauth.AccessToken,
			RefreshToken: oauth.RefreshToken,
			ClientID:     oauth.ClientID,
			ClientSecret: oauth.ClientSecret,
			TokenURL:     oauth.TokenURL,
		}, credentials.WithLogger(logger))
		opts = append(opts, imap.WithOAuth(provider))
	case env.Pass != "":
		opts = append(opts, imap.WithPassword(credentials.Password{
			Username: env.User,
			Password: env.Pass,
		}))
	default:
		return nil, errors.New("set BETTERIMAP_IMAP_PASS or configure oauth2 in the config file")
	}

	return imap.NewClient(opts...), nil
}
