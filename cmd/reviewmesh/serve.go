package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/reviewmesh/internal/adapter/driven/git"
	githubadapter "github.com/ericfisherdev/reviewmesh/internal/adapter/driven/github"
	"github.com/ericfisherdev/reviewmesh/internal/adapter/driven/gossip"
	sqliteadapter "github.com/ericfisherdev/reviewmesh/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/reviewmesh/internal/adapter/driving/http"
	"github.com/ericfisherdev/reviewmesh/internal/application"
	"github.com/ericfisherdev/reviewmesh/internal/config"
	"github.com/ericfisherdev/reviewmesh/internal/domain/port/driven"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Join the configured session and serve the local API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
}

func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <token>",
		Short: "Join the session granted by an invite token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Invite = args[0]
			if err := applyInvite(cfg); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func inviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite",
		Short: "Print an invite token for the configured session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token := gossip.GenerateInviteToken(cfg.SessionID, cfg.Secret)
			if jsonOutput(cmd) {
				return printJSON(httphandler.InviteResponse{Token: token, SessionID: cfg.SessionID})
			}
			fmt.Println(token)
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("config loaded",
		"session_id", cfg.SessionID,
		"author", cfg.Author,
		"db_path", cfg.DBPath,
		"api_addr", cfg.APIAddr,
		"mesh_addr", cfg.MeshAddr,
		"peers", cfg.Peers,
		"mdns", cfg.MDNSEnabled,
	)

	// 1. Open database (dual reader/writer with WAL mode) and migrate.
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// 2. Wire stores.
	sessionStore := sqliteadapter.NewSessionRepo(db)
	commentStore := sqliteadapter.NewCommentRepo(db)
	chatStore := sqliteadapter.NewChatRepo(db)
	queue := sqliteadapter.NewQueueRepo(db)

	// 3. Create the gossip transport and bind the mesh listener so mDNS can
	// advertise the real port.
	peerID := uuid.NewString()
	var discoverers []gossip.Discoverer
	if len(cfg.Peers) > 0 {
		discoverers = append(discoverers, &gossip.StaticDiscoverer{Addrs: cfg.Peers, Interval: cfg.DiscoveryInterval})
	}
	var mdnsDiscoverer *gossip.MDNSDiscoverer
	if cfg.MDNSEnabled {
		mdnsDiscoverer = &gossip.MDNSDiscoverer{Service: cfg.MDNSService, PeerID: peerID, Interval: cfg.DiscoveryInterval}
		discoverers = append(discoverers, mdnsDiscoverer)
	}

	transport, err := gossip.New(gossip.Config{
		PeerID:      peerID,
		ListenAddr:  cfg.MeshAddr,
		SessionID:   cfg.SessionID,
		Secret:      cfg.Secret,
		PeerTimeout: cfg.PeerTimeout,
		Discoverers: discoverers,
		Logger:      slog.Default(),
	})
	if err != nil {
		return err
	}

	meshAddr, err := transport.Listen()
	if err != nil {
		return err
	}
	if mdnsDiscoverer != nil {
		port, err := portOf(meshAddr)
		if err != nil {
			return err
		}
		mdnsDiscoverer.Port = port
	}

	// 4. Create the diff source (a GitHub pull request or the local repository).
	diffSvc := application.NewDiffService(newDiffSource(cfg), commentStore)
	reportSvc := application.NewReportService(sessionStore, commentStore, chatStore, diffSvc)

	// 5. Create the sync engine and its owner service.
	engine := application.NewSyncEngine(
		sessionStore,
		commentStore,
		chatStore,
		queue,
		transport,
		application.LogObserver{Logger: slog.Default()},
		cfg.SessionID,
	)
	syncSvc := application.NewSyncService(engine, transport, queue, application.SyncServiceConfig{
		Title:          cfg.SessionTitle,
		LocalAuthor:    cfg.Author,
		TickInterval:   cfg.TickInterval,
		QueueRetention: cfg.QueueRetention,
		HandoffBuffer:  cfg.HandoffBuffer,
	})

	// 6. Create HTTP handler.
	apiHandler := httphandler.NewHandler(
		sessionStore, commentStore, chatStore,
		syncSvc, diffSvc, reportSvc,
		transport.Peers,
		cfg.Secret, cfg.Author, slog.Default(),
	)
	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 7. Start the transport, then the sync service; both stop with runCtx.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := transport.Run(runCtx); err != nil {
			errCh <- fmt.Errorf("gossip transport: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := syncSvc.Run(runCtx); err != nil {
			errCh <- fmt.Errorf("sync service: %w", err)
		}
	}()

	go func() {
		slog.Info("http server starting", "addr", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	// 8. Log startup complete.
	slog.Info("reviewmesh started",
		"peer_id", peerID,
		"session_id", cfg.SessionID,
		"mesh_addr", meshAddr,
		"api_addr", cfg.APIAddr,
		"invite", gossip.GenerateInviteToken(cfg.SessionID, cfg.Secret),
	)

	// 9. Wait for shutdown signal or a fatal component error.
	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case runErr = <-errCh:
		slog.Error("component failed, shutting down", "error", runErr)
	}

	// 10. Graceful shutdown with 10s timeout for HTTP server drain.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	cancel()
	wg.Wait()

	// 11. Log shutdown complete.
	slog.Info("shutdown complete")
	return runErr
}

func openDB(ctx context.Context, cfg *config.Config) (*sqliteadapter.DB, error) {
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Debug("database ready", "path", cfg.DBPath)
	return db, nil
}

// newDiffSource picks the configured diff source. A pull request takes
// precedence over the local repository.
func newDiffSource(cfg *config.Config) driven.DiffSource {
	if cfg.HasGitHubSource() {
		slog.Info("diffing github pull request", "repo", cfg.GitHubRepo, "pr", cfg.GitHubPR)
		return githubadapter.NewPRDiffSource(githubadapter.NewClient(cfg.GitHubToken), cfg.GitHubRepo, cfg.GitHubPR)
	}
	return git.NewSource(git.ExecRunner{}, cfg.RepoPath, cfg.DiffTarget)
}

func portOf(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse mesh address %s: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("parse mesh port %s: %w", portStr, err)
	}
	return port, nil
}
