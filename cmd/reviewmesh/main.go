package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/reviewmesh/internal/adapter/driven/gossip"
	"github.com/ericfisherdev/reviewmesh/internal/config"
)

// cfg is loaded by the root command before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "reviewmesh",
	Short: "Peer-to-peer code review sessions",
	Long: `ReviewMesh lets a small group review a diff together without a server.
Every peer keeps the session's comments and chat in a local SQLite file and
gossips changes to the others over the local network. Peers that were offline
catch up from the queues of peers that still hold their unsent events.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		v, err := config.NewViper()
		if err != nil {
			return err
		}
		if err := bindFlags(cmd, v); err != nil {
			return err
		}

		loaded, err := config.FromViper(v)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := applyInvite(loaded); err != nil {
			return err
		}

		cfg = loaded
		slog.SetDefault(newLogger(cfg))
		return nil
	},
}

func main() {
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"session":  config.KeySessionID,
	"author":   config.KeyAuthor,
	"db":       config.KeyDBPath,
	"api-addr": config.KeyAPIAddr,
	"repo":     config.KeyRepoPath,
	"target":   config.KeyDiffTarget,
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("session", "", "session id (REVIEWMESH_SESSION_ID)")
	flags.String("author", "", "display name of the local reviewer (REVIEWMESH_AUTHOR)")
	flags.String("db", "", "SQLite database path (REVIEWMESH_DB_PATH)")
	flags.String("api-addr", "", "local HTTP API address (REVIEWMESH_API_ADDR)")
	flags.String("repo", "", "git repository to diff (REVIEWMESH_REPO_PATH)")
	flags.String("target", "", "revision to diff against; empty diffs the working tree (REVIEWMESH_DIFF_TARGET)")
	flags.Bool("json", false, "output JSON")
}

// bindFlags binds only the flags set on the command line, so unset flags do
// not shadow environment variables and config file values.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// applyInvite replaces the configured session with the one granted by an
// invite token, after verifying the token against the shared secret.
func applyInvite(c *config.Config) error {
	if c.Invite == "" {
		return nil
	}

	sid, ok := gossip.ParseInviteToken(c.Invite, c.Secret)
	if !ok {
		return fmt.Errorf("%s: invite token is invalid for this secret", config.EnvName(config.KeyInvite))
	}

	c.SessionID = sid
	return nil
}

func newLogger(c *config.Config) *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func jsonOutput(cmd *cobra.Command) bool {
	on, _ := cmd.Flags().GetBool("json")
	return on
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
