package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/app"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/backend"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/broadcast"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/config"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/coordinator"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/daemon"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/db"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/mcpserver"
	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/store"
)

var version = "dev"

// shutdownTimeout bounds how long serve waits for in-flight uploads.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	socketPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "summariser",
		Short:         "Record browser meetings and chat with their summaries",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", config.DefaultPath(), "config file path")
	root.PersistentFlags().StringVar(&flags.socketPath, "socket", "", "daemon socket path")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newTUICmd(flags))
	root.AddCommand(newStartCmd(flags))
	root.AddCommand(newStopCmd(flags))
	root.AddCommand(newChatCmd(flags))
	root.AddCommand(newStatusCmd(flags))
	root.AddCommand(newHistoryCmd(flags))
	root.AddCommand(newMCPCmd(flags))
	return root
}

// loadConfig resolves the config cascade, applying only the flags the
// user actually set.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (config.Config, error) {
	overrides := &config.FlagOverrides{}
	if cmd.Flags().Changed("socket") {
		overrides.SocketPath = &flags.socketPath
	}
	if cmd.Flags().Changed("log-level") {
		overrides.LogLevel = &flags.logLevel
	}
	return config.Load(flags.configPath, overrides)
}

func newLogger(cfg config.Config) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "summariser",
		Level:  cfg.Level(),
		Output: os.Stderr,
	})
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg))
		},
	}
}

// serve wires the daemon together and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config, log hclog.Logger) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	states := store.New(database)
	if err := states.Init(ctx); err != nil {
		return fmt.Errorf("load session state: %w", err)
	}

	api := backend.New(backend.Options{
		BaseURL:     cfg.BackendURL,
		MaxAttempts: cfg.Upload.MaxAttempts,
		BaseDelay:   cfg.Upload.BaseDelay,
		HTTPClient:  &http.Client{Timeout: cfg.Upload.Timeout},
	})

	hub := broadcast.NewHub()
	recorder := daemon.NewRecorder(log.Named("recorder"), cfg.RecorderTimeout)

	coord := coordinator.New(coordinator.Options{
		Store:         states,
		Backend:       api,
		Driver:        recorder,
		Host:          recorder,
		Hub:           hub,
		Archive:       database,
		Logger:        log.Named("coordinator"),
		ChunkInterval: cfg.ChunkInterval,
	})

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("coordinator stopped", "error", err)
		}
	}()

	if cfg.RecoverOnStart {
		if err := coord.Recover(ctx); err != nil {
			log.Warn("recovery failed", "error", err)
		}
	}

	srv := daemon.NewServer(daemon.ServerOptions{
		Coordinator: coord,
		Recorder:    recorder,
		History:     database,
		Logger:      log.Named("server"),
	})

	log.Info("daemon listening", "socket", cfg.SocketPath, "backend", api.BaseURL())
	serveErr := srv.ListenAndServe(ctx, cfg.SocketPath)

	cancelRun()
	<-runDone
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := coord.Close(closeCtx); err != nil {
		log.Warn("shutdown", "error", err)
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

func newTUICmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal UI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			p := tea.NewProgram(app.New(cfg.SocketPath), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
}

// sendCommand runs one request/response exchange with the daemon.
func sendCommand(cmd *cobra.Command, flags *rootFlags, c daemon.Command) (daemon.Response, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return daemon.Response{}, err
	}
	client, err := daemon.Connect(cfg.SocketPath)
	if err != nil {
		return daemon.Response{}, fmt.Errorf("daemon not running at %s: %w", cfg.SocketPath, err)
	}
	defer client.Close()

	resp, err := client.SendCommand(c)
	if err != nil {
		return daemon.Response{}, err
	}
	if !resp.OK {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

func newStartCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start recording the active tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := sendCommand(cmd, flags, daemon.Command{Cmd: daemon.CmdStart})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recording started (session %s)\n", resp.SessionID)
			return nil
		},
	}
}

func newStopCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop recording and finalize the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := sendCommand(cmd, flags, daemon.Command{Cmd: daemon.CmdStop}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), coordinator.StatusStopRequested)
			return nil
		},
	}
}

func newChatCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <question>",
		Short: "Ask a question about the last summarized meeting",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			tools := mcpserver.NewTools(mcpserver.SocketDialer(cfg.SocketPath), mcpserver.DefaultChatTimeout)
			answer, err := tools.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := sendCommand(cmd, flags, daemon.Command{Cmd: daemon.CmdStatus})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State:     %s\n", resp.State)
			if resp.Recording != nil {
				fmt.Fprintf(out, "Recording: %v\n", *resp.Recording)
			}
			if resp.Chunks != nil {
				fmt.Fprintf(out, "Chunks:    %d\n", *resp.Chunks)
			}
			if resp.SessionID != "" {
				fmt.Fprintf(out, "Session:   %s\n", resp.SessionID)
			}
			if l := resp.Latest; l != nil {
				fmt.Fprintf(out, "Last:      %s (%s, %d chunks)\n", l.ID, l.Status, l.TotalChunks)
			}
			if resp.Summary != "" {
				fmt.Fprintf(out, "\n%s\n", resp.Summary)
			}
			return nil
		},
	}
}

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	var limit int
	var asJSON bool

	history := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := sendCommand(cmd, flags, daemon.Command{Cmd: daemon.CmdHistory, Limit: daemon.IntPtr(limit)})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp.Sessions)
			}
			for _, s := range resp.Sessions {
				fmt.Fprintf(out, "%s  %-10s  %3d chunks  %s\n",
					s.StartedAt.Local().Format("2006-01-02 15:04"), s.Status, s.TotalChunks, s.ID)
			}
			return nil
		},
	}
	history.Flags().IntVar(&limit, "limit", daemon.DefaultHistoryLimit, "maximum sessions to list")
	history.Flags().BoolVar(&asJSON, "json", false, "print sessions as JSON")
	return history
}

func newMCPCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the daemon as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			tools := mcpserver.NewTools(mcpserver.SocketDialer(cfg.SocketPath), mcpserver.DefaultChatTimeout)
			return mcpserver.Serve(mcpserver.New(version, tools))
		},
	}
}
