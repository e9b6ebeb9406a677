// Package config loads connection settings from the environment and the
// optional OAuth2 credential file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	envIMAPHost     = "BETTERIMAP_IMAP_HOST"
	envIMAPPort     = "BETTERIMAP_IMAP_PORT"
	envIMAPUser     = "BETTERIMAP_IMAP_USER"
	envIMAPPass     = "BETTERIMAP_IMAP_PASS"
	envIMAPSecurity = "BETTERIMAP_IMAP_SECURITY"

	defaultIMAPPort = 993
)

// IMAPEnv holds the IMAP connection details from environment variables.
type IMAPEnv struct {
	Host     string
	Port     int
	User     string
	Pass     string
	Security string
}

// Addr returns the host:port dial address.
func (e IMAPEnv) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// IMAPEnvFromEnv loads connection details and validates required entries.
// The password is optional; accounts using OAuth2 configure tokens through
// the credential file instead.
func IMAPEnvFromEnv() (IMAPEnv, error) {
	missing := []string{}

	host := strings.TrimSpace(os.Getenv(envIMAPHost))
	if host == "" {
		missing = append(missing, envIMAPHost)
	}

	user := strings.TrimSpace(os.Getenv(envIMAPUser))
	if user == "" {
		missing = append(missing, envIMAPUser)
	}

	if len(missing) > 0 {
		return IMAPEnv{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	port := defaultIMAPPort
	if portRaw := strings.TrimSpace(os.Getenv(envIMAPPort)); portRaw != "" {
		parsed, err := strconv.Atoi(portRaw)
		if err != nil {
			return IMAPEnv{}, fmt.Errorf("invalid %s: %w", envIMAPPort, err)
		}
		port = parsed
	}

	security := strings.ToLower(strings.TrimSpace(os.Getenv(envIMAPSecurity)))
	switch security {
	case "", "tls", "starttls", "insecure":
	default:
		return IMAPEnv{}, fmt.Errorf("invalid %s: %q (want tls, starttls or insecure)", envIMAPSecurity, security)
	}

	return IMAPEnv{
		Host:     host,
		Port:     port,
		User:     user,
		Pass:     os.Getenv(envIMAPPass),
		Security: security,
	}, nil
}

// OAuth2 is the token material persisted in the credential file.
type OAuth2 struct {
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

// Config holds the non-env configuration loaded from YAML.
type Config struct {
	OAuth2 *OAuth2 `yaml:"oauth2"`
}

// Load reads configuration from a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that an OAuth2 block, when present, carries enough to
// authenticate at least once.
func Validate(cfg Config) error {
	if cfg.OAuth2 == nil {
		return nil
	}
	if strings.TrimSpace(cfg.OAuth2.AccessToken) == "" && strings.TrimSpace(cfg.OAuth2.RefreshToken) == "" {
		return fmt.Errorf("oauth2 config needs an access_token or a refresh_token")
	}
	if strings.TrimSpace(cfg.OAuth2.RefreshToken) != "" {
		if strings.TrimSpace(cfg.OAuth2.ClientID) == "" || strings.TrimSpace(cfg.OAuth2.ClientSecret) == "" {
			return fmt.Errorf("oauth2 refresh needs client_id and client_secret")
		}
		if strings.TrimSpace(cfg.OAuth2.TokenURL) == "" {
			return fmt.Errorf("oauth2 refresh needs token_url")
		}
	}
	return nil
}
