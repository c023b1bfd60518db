// Package config loads application configuration from environment variables
// and an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key to form its environment
// variable, e.g. REVIEWMESH_SESSION_ID.
const EnvPrefix = "REVIEWMESH"

// Keys understood by Load. Environment variables are EnvPrefix + "_" + the
// upper-cased key.
const (
	KeySessionID         = "session_id"
	KeySessionTitle      = "session_title"
	KeyAuthor            = "author"
	KeySecret            = "secret"
	KeyInvite            = "invite"
	KeyDBPath            = "db_path"
	KeyAPIAddr           = "api_addr"
	KeyMeshAddr          = "mesh_addr"
	KeyPeers             = "peers"
	KeyMDNSEnabled       = "mdns_enabled"
	KeyMDNSService       = "mdns_service"
	KeyTickInterval      = "tick_interval"
	KeyDiscoveryInterval = "discovery_interval"
	KeyPeerTimeout       = "peer_timeout"
	KeyHandoffBuffer     = "handoff_buffer"
	KeyQueueRetention    = "queue_retention"
	KeyRepoPath          = "repo_path"
	KeyDiffTarget        = "diff_target"
	KeyGitHubToken       = "github_token"
	KeyGitHubRepo        = "github_repo"
	KeyGitHubPR          = "github_pr"
	KeyLogLevel          = "log_level"
	KeyLogFormat         = "log_format"
)

// Config holds the application configuration.
type Config struct {
	SessionID    string
	SessionTitle string
	Author       string
	Secret       []byte
	Invite       string // Verified and applied by the caller, which owns the token format.

	DBPath   string
	APIAddr  string
	MeshAddr string

	Peers             []string
	MDNSEnabled       bool
	MDNSService       string
	TickInterval      time.Duration
	DiscoveryInterval time.Duration
	PeerTimeout       time.Duration
	HandoffBuffer     int
	QueueRetention    time.Duration

	RepoPath   string
	DiffTarget string // Empty compares the working tree against HEAD.

	GitHubToken string
	GitHubRepo  string
	GitHubPR    int

	LogLevel  string
	LogFormat string
}

// HasGitHubSource returns true when a pull request is configured as the diff
// source instead of the local repository.
func (c *Config) HasGitHubSource() bool {
	return c.GitHubRepo != "" && c.GitHubPR > 0
}

// EnvName returns the environment variable for a configuration key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

// NewViper returns a viper instance with defaults applied, environment
// variables bound, and the file named by REVIEWMESH_CONFIG read if set.
// Callers may bind command-line flags to it before calling FromViper.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	author := os.Getenv("USER")
	if author == "" {
		author = "anonymous"
	}

	v.SetDefault(KeySessionID, "default-session")
	v.SetDefault(KeySessionTitle, "Default Session")
	v.SetDefault(KeyAuthor, author)
	v.SetDefault(KeySecret, "reviewmesh-secret")
	v.SetDefault(KeyInvite, "")
	v.SetDefault(KeyDBPath, "reviewmesh.db")
	v.SetDefault(KeyAPIAddr, "127.0.0.1:8470")
	v.SetDefault(KeyMeshAddr, "0.0.0.0:0")
	v.SetDefault(KeyPeers, "")
	v.SetDefault(KeyMDNSEnabled, "true")
	v.SetDefault(KeyMDNSService, "_reviewmesh._tcp")
	v.SetDefault(KeyTickInterval, "2s")
	v.SetDefault(KeyDiscoveryInterval, "10s")
	v.SetDefault(KeyPeerTimeout, "30s")
	v.SetDefault(KeyHandoffBuffer, "64")
	v.SetDefault(KeyQueueRetention, "168h")
	v.SetDefault(KeyRepoPath, ".")
	v.SetDefault(KeyDiffTarget, "")
	v.SetDefault(KeyGitHubToken, "")
	v.SetDefault(KeyGitHubRepo, "")
	v.SetDefault(KeyGitHubPR, "0")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")

	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%s_CONFIG: read %s: %w", EnvPrefix, path, err)
		}
	}

	return v, nil
}

// Load reads configuration from the environment and the optional config file
// and returns a validated Config.
func Load() (*Config, error) {
	v, err := NewViper()
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper builds and validates a Config from v. Every invalid value is
// reported, keyed by its environment variable.
func FromViper(v *viper.Viper) (*Config, error) {
	var errs criterio.FieldErrorsBuilder

	durationOf := func(key string) time.Duration {
		raw := v.GetString(key)
		d, err := time.ParseDuration(raw)
		switch {
		case err != nil:
			errs = errs.Append(EnvName(key), fmt.Errorf("invalid duration %q: %w", raw, err))
		case d <= 0:
			errs = errs.Append(EnvName(key), fmt.Errorf("must be positive, got %s", raw))
		}
		return d
	}

	intOf := func(key string, min int) int {
		raw := v.GetString(key)
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			errs = errs.Append(EnvName(key), fmt.Errorf("invalid integer %q", raw))
		case n < min:
			errs = errs.Append(EnvName(key), fmt.Errorf("must be at least %d, got %d", min, n))
		}
		return n
	}

	mdns, err := strconv.ParseBool(v.GetString(KeyMDNSEnabled))
	if err != nil {
		errs = errs.Append(EnvName(KeyMDNSEnabled), fmt.Errorf("invalid boolean %q", v.GetString(KeyMDNSEnabled)))
	}

	cfg := &Config{
		SessionID:         strings.TrimSpace(v.GetString(KeySessionID)),
		SessionTitle:      v.GetString(KeySessionTitle),
		Author:            strings.TrimSpace(v.GetString(KeyAuthor)),
		Secret:            []byte(v.GetString(KeySecret)),
		Invite:            strings.TrimSpace(v.GetString(KeyInvite)),
		DBPath:            v.GetString(KeyDBPath),
		APIAddr:           v.GetString(KeyAPIAddr),
		MeshAddr:          v.GetString(KeyMeshAddr),
		Peers:             splitList(v.GetString(KeyPeers)),
		MDNSEnabled:       mdns,
		MDNSService:       v.GetString(KeyMDNSService),
		TickInterval:      durationOf(KeyTickInterval),
		DiscoveryInterval: durationOf(KeyDiscoveryInterval),
		PeerTimeout:       durationOf(KeyPeerTimeout),
		HandoffBuffer:     intOf(KeyHandoffBuffer, 1),
		QueueRetention:    durationOf(KeyQueueRetention),
		RepoPath:          v.GetString(KeyRepoPath),
		DiffTarget:        strings.TrimSpace(v.GetString(KeyDiffTarget)),
		GitHubToken:       v.GetString(KeyGitHubToken),
		GitHubRepo:        strings.TrimSpace(v.GetString(KeyGitHubRepo)),
		GitHubPR:          intOf(KeyGitHubPR, 0),
		LogLevel:          strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:         strings.ToLower(v.GetString(KeyLogFormat)),
	}

	if cfg.SessionID == "" {
		errs = errs.Append(EnvName(KeySessionID), errRequired)
	}
	if cfg.Author == "" {
		errs = errs.Append(EnvName(KeyAuthor), errRequired)
	}
	if len(cfg.Secret) == 0 {
		errs = errs.Append(EnvName(KeySecret), errRequired)
	}
	if cfg.DBPath == "" {
		errs = errs.Append(EnvName(KeyDBPath), errRequired)
	}

	if cfg.GitHubRepo != "" {
		if owner, name, ok := strings.Cut(cfg.GitHubRepo, "/"); !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			errs = errs.Append(EnvName(KeyGitHubRepo), fmt.Errorf("expected owner/repo, got %q", cfg.GitHubRepo))
		}
		if cfg.GitHubPR <= 0 {
			errs = errs.Append(EnvName(KeyGitHubPR), errors.New("is required when a GitHub repository is set"))
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = errs.Append(EnvName(KeyLogLevel), fmt.Errorf("must be one of debug, info, warn, error; got %q", cfg.LogLevel))
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		errs = errs.Append(EnvName(KeyLogFormat), fmt.Errorf("must be text or json; got %q", cfg.LogFormat))
	}

	if err := errs.ToError(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var errRequired = errors.New("is required")

func splitList(raw string) []string {
	out := []string{}
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
