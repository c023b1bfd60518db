package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	sqliteadapter "github.com/ericfisherdev/reviewmesh/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/reviewmesh/internal/adapter/driving/export"
	httphandler "github.com/ericfisherdev/reviewmesh/internal/adapter/driving/http"
	"github.com/ericfisherdev/reviewmesh/internal/application"
	"github.com/ericfisherdev/reviewmesh/internal/domain/model"
)

func registerCommands() {
	rootCmd.AddCommand(
		serveCmd(),
		joinCmd(),
		inviteCmd(),
		commentsCmd(),
		commentCmd(),
		resolveCmd(),
		chatCmd(),
		diffCmd(),
		exportCmd(),
	)
}

// local bundles the read side of the local database.
type local struct {
	sessions *sqliteadapter.SessionRepo
	comments *sqliteadapter.CommentRepo
	chat     *sqliteadapter.ChatRepo
	diff     *application.DiffService
	report   *application.ReportService
}

// withLocal opens the local database for read-only commands. It is safe to
// use while `serve` holds the same file.
func withLocal(ctx context.Context, fn func(ctx context.Context, l local) error) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	l := local{
		sessions: sqliteadapter.NewSessionRepo(db),
		comments: sqliteadapter.NewCommentRepo(db),
		chat:     sqliteadapter.NewChatRepo(db),
	}
	l.diff = application.NewDiffService(newDiffSource(cfg), l.comments)
	l.report = application.NewReportService(l.sessions, l.comments, l.chat, l.diff)

	return fn(ctx, l)
}

func commentsCmd() *cobra.Command {
	var stale bool
	cmd := &cobra.Command{
		Use:   "comments",
		Short: "List the session's comments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLocal(cmd.Context(), func(ctx context.Context, l local) error {
				var (
					comments []model.Comment
					err      error
				)
				if stale {
					comments, err = l.diff.StaleComments(ctx, cfg.SessionID)
				} else {
					comments, err = l.comments.ListComments(ctx, cfg.SessionID)
				}
				if err != nil {
					return err
				}

				if jsonOutput(cmd) {
					return printJSON(comments)
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Author", "Location", "Hunk", "Resolved", "Body"})
				for _, c := range comments {
					tw.AppendRow(commentRow(c))
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&stale, "stale", false, "only comments whose hunk is not in the current diff")
	return cmd
}

func commentCmd() *cobra.Command {
	var req httphandler.CreateCommentRequest
	cmd := &cobra.Command{
		Use:   "comment [body...]",
		Short: "Add a comment through the running peer",
		Long: `Add a comment through the running peer. Without arguments the body is
read from stdin, so a longer comment can be piped in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := commentBody(args, os.Stdin)
			if err != nil {
				return err
			}
			req.Author = cfg.Author
			req.Body = body

			c, err := newAPIClient(cfg.APIAddr).submitComment(cmd.Context(), cfg.SessionID, req)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(c)
			}
			fmt.Println(c.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.File, "file", "", "file the comment refers to")
	cmd.Flags().StringVar(&req.HunkID, "hunk", "", "`id` of the hunk, as listed by reviewmesh diff")
	cmd.Flags().IntVar(&req.Line, "line", 0, "line number on the new side")
	return cmd
}

func resolveCmd() *cobra.Command {
	var reopen bool
	cmd := &cobra.Command{
		Use:   "resolve <comment-id>",
		Short: "Resolve (or reopen) a comment through the running peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved := !reopen
			c, err := newAPIClient(cfg.APIAddr).resolveComment(cmd.Context(), cfg.SessionID, args[0],
				httphandler.ResolveCommentRequest{Resolved: &resolved, By: cfg.Author})
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(c)
			}
			fmt.Printf("%s resolved=%t\n", c.ID, c.Resolved)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reopen, "reopen", false, "reopen instead of resolving")
	return cmd
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message...]",
		Short: "Show the session chat, or send a message through the running peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				l, err := newAPIClient(cfg.APIAddr).sendChat(cmd.Context(), cfg.SessionID,
					httphandler.CreateChatRequest{Author: cfg.Author, Body: strings.Join(args, " ")})
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(l)
				}
				fmt.Println(l.ID)
				return nil
			}

			return withLocal(cmd.Context(), func(ctx context.Context, l local) error {
				lines, err := l.chat.ListChat(ctx, cfg.SessionID)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(lines)
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Author", "Message"})
				for _, line := range lines {
					tw.AppendRow(table.Row{line.CreatedAt.Local().Format("15:04:05"), line.Author, line.Body})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func diffCmd() *cobra.Command {
	var (
		showContent bool
		pathFilter  string
	)
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show the diff under review with hunk ids and comment counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLocal(cmd.Context(), func(ctx context.Context, l local) error {
				files, err := l.diff.Files(ctx)
				if err != nil {
					return err
				}
				files, err = application.FilterFiles(files, pathFilter)
				if err != nil {
					return err
				}
				comments, err := l.comments.ListComments(ctx, cfg.SessionID)
				if err != nil {
					return err
				}

				if jsonOutput(cmd) {
					return printJSON(files)
				}

				counts := make(map[string]int)
				for _, c := range comments {
					counts[c.HunkID]++
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"File", "Hunk", "Old", "New", "Comments"})
				for _, f := range files {
					for _, h := range f.Hunks {
						tw.AppendRow(table.Row{
							f.File,
							h.ID,
							fmt.Sprintf("%d,%d", h.OldStart, h.OldLines),
							fmt.Sprintf("%d,%d", h.NewStart, h.NewLines),
							counts[h.ID],
						})
					}
				}
				tw.Render()

				if showContent {
					for _, f := range files {
						for _, h := range f.Hunks {
							fmt.Printf("\n%s %s\n%s", f.File, h.ID, h.Content)
						}
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showContent, "content", false, "print each hunk after the table")
	cmd.Flags().StringVar(&pathFilter, "path", "", "only files matching this glob, e.g. 'internal/**/*.go'")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the session as Markdown or HTML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "md" && format != "html" {
				return errors.New("--format must be md or html")
			}
			if out == "" {
				out = "reviewmesh_export." + format
			}

			return withLocal(cmd.Context(), func(ctx context.Context, l local) error {
				report, err := l.report.Build(ctx, cfg.SessionID)
				if err != nil {
					return err
				}

				doc := export.Markdown(report)
				if format == "html" {
					doc = export.HTML(report)
				}

				if out == "-" {
					_, err := fmt.Fprint(os.Stdout, doc)
					return err
				}
				if err := os.WriteFile(out, []byte(doc), 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Printf("Exported to %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "md", "md or html")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, - for stdout (default reviewmesh_export.<format>)")
	return cmd
}

// commentBody joins args, or reads stdin when there are none. A terminal on
// stdin means nothing was piped.
func commentBody(args []string, stdin *os.File) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if term.IsTerminal(int(stdin.Fd())) {
		return "", errors.New("no comment body (stdin is a terminal); pass it as arguments or pipe it in")
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read comment body: %w", err)
	}
	body := strings.TrimSpace(string(data))
	if body == "" {
		return "", errors.New("comment body is empty")
	}
	return body, nil
}

// commentRow shows the full comment ID, since that is what resolve expects.
func commentRow(c model.Comment) table.Row {
	resolved := ""
	if c.Resolved {
		resolved = "by " + c.ResolvedBy
	}
	return table.Row{c.ID, c.Author, location(c), c.HunkID, resolved, truncate(c.Body, 60)}
}

func location(c model.Comment) string {
	if c.Line > 0 {
		return fmt.Sprintf("%s:%d", c.File, c.Line)
	}
	return c.File
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
