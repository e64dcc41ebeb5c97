package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jareynolds/UbeCode-sub002/internal/collab"
	"github.com/jareynolds/UbeCode-sub002/internal/config"
	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/render"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "canvasd.yaml"

type rootFlags struct {
	configPath string
}

// NewRootCommand builds the canvasd command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "canvasd",
		Short:         "Collaborative canvas server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", DefaultConfigPath, "path to the YAML config file")

	root.AddCommand(
		newServeCommand(flags),
		newMCPCommand(flags),
		newExportCommand(flags),
		newImportCommand(flags),
		newRenderCommand(flags),
		newMirrorCommand(flags),
	)
	return root
}

// withApp loads config, opens the app for the duration of fn and closes it.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, a *App) error) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type targetFlags struct {
	workspace string
	page      string
}

func (t *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.workspace, "workspace", "", "workspace id")
	cmd.Flags().StringVar(&t.page, "page", string(domain.PageIdeation), "page: ideation or storyboard")
	_ = cmd.MarkFlagRequired("workspace")
}

func (t *targetFlags) resolve() (domain.Page, error) {
	if strings.TrimSpace(t.workspace) == "" {
		return "", errors.New("--workspace is required")
	}
	return domain.ParsePage(t.page)
}

// ── serve ──────────────────────────────────────────────────

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the collaboration hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				if err := a.Start(ctx); err != nil {
					return err
				}
				return a.Serve(ctx)
			})
		},
	}
}

// ── mcp ────────────────────────────────────────────────────

func newMCPCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the canvas tools over MCP on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				if !a.cfg.MCP.Enabled {
					return errors.New("mcp is disabled in config")
				}
				return a.MCP().ServeStdio()
			})
		},
	}
}

// ── export / import ────────────────────────────────────────

func newExportCommand(flags *rootFlags) *cobra.Command {
	t := &targetFlags{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a page's records to the workspace folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := t.resolve()
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				res, err := a.transfer.Export(ctx, t.workspace, page)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	t.register(cmd)
	return cmd
}

func newImportCommand(flags *rootFlags) *cobra.Command {
	t := &targetFlags{}
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a page from the records in the workspace folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := t.resolve()
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				a.canvas.Activate(t.workspace)
				sum, err := a.transfer.Import(ctx, t.workspace, page)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
	t.register(cmd)
	return cmd
}

// ── render ─────────────────────────────────────────────────

func newRenderCommand(flags *rootFlags) *cobra.Command {
	t := &targetFlags{}
	var out string
	var scale float64
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a page to a PNG or PDF file",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := t.resolve()
			if err != nil {
				return err
			}
			var draw renderFunc
			switch strings.ToLower(filepath.Ext(out)) {
			case ".png":
				draw = render.PNG
			case ".pdf":
				draw = render.PDF
			default:
				return fmt.Errorf("--out must end in .png or .pdf, got %q", out)
			}
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				st, err := a.canvas.State(ctx, t.workspace, page)
				if err != nil {
					return err
				}
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				if err := draw(f, st, render.Options{Scale: scale, Title: t.workspace + " / " + string(page)}); err != nil {
					f.Close()
					os.Remove(out)
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d items)\n", out, len(st.Items))
				return nil
			})
		},
	}
	t.register(cmd)
	cmd.Flags().StringVar(&out, "out", "", "output file, .png or .pdf")
	cmd.Flags().Float64Var(&scale, "scale", 1, "pixels or points per canvas unit")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// ── mirror ─────────────────────────────────────────────────

// newMirrorCommand joins a remote room as a headless peer and keeps the
// local copy of the page in step with it.
func newMirrorCommand(flags *rootFlags) *cobra.Command {
	t := &targetFlags{}
	var url, email, name string
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Mirror a remote canvas page into the local database",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := t.resolve()
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				store, err := a.canvas.Store(ctx, t.workspace, page)
				if err != nil {
					return err
				}
				client := collab.NewClient(collab.ClientOptions{
					URL:           url,
					Debounce:      time.Duration(a.cfg.Collab.DebounceMS) * time.Millisecond,
					SequenceGuard: a.cfg.Collab.SequenceGuard,
				})
				client.OnRoster(func(users []collab.User) {
					a.logger.Info("roster", slog.Int("users", len(users)))
				})
				replica := collab.NewReplica(store, client)
				defer replica.Close()

				if err := client.Join(t.workspace, page, collab.Identity{Email: email, Name: name}); err != nil &&
					!errors.Is(err, collab.ErrNotConnected) {
					return err
				}
				err = client.Run(ctx)
				if errors.Is(err, context.Canceled) {
					a.logger.Info("mirror stopped",
						slog.Int64("applied", replica.Applied()),
						slog.Int64("sent", replica.Sent()))
					return nil
				}
				return err
			})
		},
	}
	t.register(cmd)
	cmd.Flags().StringVar(&url, "url", "ws://127.0.0.1:7420/ws", "collab websocket URL")
	cmd.Flags().StringVar(&email, "email", "", "identity shown to other peers")
	cmd.Flags().StringVar(&name, "name", "canvasd mirror", "display name")
	return cmd
}
