package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names for the MCP server.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "streamable-http"
)

// Defaults for the SingleStore endpoints and the interactive flow.
const (
	DefaultOAuthHost   = "https://authsvc.singlestore.com/auth"
	DefaultAPIURL      = "https://api.singlestore.com"
	DefaultClientID    = "b7dbf19e-d140-4334-bae4-e8cd03614485"
	DefaultScope       = "openid profile email phone address offline_access"
	DefaultAuthTimeout = 5 * time.Minute
	DefaultListenAddr  = ":8000"
)

// Config holds all runtime settings. Values come from defaults, then an
// optional YAML file, then S2MCP_* environment variables, each layer
// overriding the previous one.
type Config struct {
	// OAuthHost is the base URL of the SingleStore identity provider.
	OAuthHost string `yaml:"oauth_host"`

	// ClientID is the OAuth client used for the interactive flow and, in
	// remote mode, for the proxy's upstream leg.
	ClientID string `yaml:"client_id"`

	// Scope is the space-separated scope string requested at login.
	Scope string `yaml:"scope"`

	// AuthTimeout bounds the browser callback wait.
	AuthTimeout time.Duration `yaml:"auth_timeout"`

	// CallbackPort is the local redirect listener port. Zero picks an
	// ephemeral port.
	CallbackPort int `yaml:"callback_port"`

	// APIURL is the SingleStore management API base URL.
	APIURL string `yaml:"api_url"`

	// Transport selects stdio (local) or streamable-http (remote).
	Transport string `yaml:"transport"`

	// ListenAddr is the HTTP listen address in remote mode.
	ListenAddr string `yaml:"listen_addr"`

	// Issuer is the externally visible base URL of this server in remote
	// mode, used in OAuth metadata and the upstream callback URI.
	Issuer string `yaml:"issuer"`

	// DatabaseDSN, when set, backs the OAuth store with a SingleStore
	// database instead of process memory. go-sql-driver DSN format.
	DatabaseDSN string `yaml:"database_dsn"`

	// CredentialsDir overrides the default ~/.s2mcp directory.
	CredentialsDir string `yaml:"credentials_dir"`
}

// Load builds the configuration from defaults, the config file, and the
// environment. path is the YAML file to read; empty means
// $S2MCP_CONFIG or ~/.s2mcp/config.yaml, either of which may be absent.
func Load(path string) (*Config, error) {
	cfg := &Config{
		OAuthHost:   DefaultOAuthHost,
		ClientID:    DefaultClientID,
		Scope:       DefaultScope,
		AuthTimeout: DefaultAuthTimeout,
		APIURL:      DefaultAPIURL,
		Transport:   TransportStdio,
		ListenAddr:  DefaultListenAddr,
	}

	explicit := path != ""
	if path == "" {
		path = os.Getenv("S2MCP_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".s2mcp", "config.yaml")
		}
	}

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&cfg.OAuthHost, "S2MCP_OAUTH_HOST")
	setString(&cfg.ClientID, "S2MCP_CLIENT_ID")
	setString(&cfg.Scope, "S2MCP_SCOPE")
	setString(&cfg.APIURL, "S2MCP_API_URL")
	setString(&cfg.Transport, "S2MCP_TRANSPORT")
	setString(&cfg.ListenAddr, "S2MCP_LISTEN_ADDR")
	setString(&cfg.Issuer, "S2MCP_ISSUER")
	setString(&cfg.DatabaseDSN, "S2MCP_DATABASE_DSN")
	setString(&cfg.CredentialsDir, "S2MCP_CREDENTIALS_DIR")

	if v := os.Getenv("S2MCP_AUTH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AuthTimeout = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			cfg.AuthTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("S2MCP_CALLBACK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.CallbackPort = port
		}
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.OAuthHost == "" {
		return fmt.Errorf("oauth_host must not be empty")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id must not be empty")
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("auth_timeout must be positive")
	}
	switch c.Transport {
	case TransportStdio:
	case TransportHTTP:
		if c.Issuer == "" {
			return fmt.Errorf("issuer is required for the %s transport", TransportHTTP)
		}
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)",
			c.Transport, TransportStdio, TransportHTTP)
	}
	return nil
}
