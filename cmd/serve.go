package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/sprintpilot/internal/api"
	"github.com/joescharf/sprintpilot/internal/daemon"
	"github.com/joescharf/sprintpilot/internal/dispatch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local API server for the editor plugin",
	Long: `Start an HTTP server with the JSON API the editor plugin talks to.
It listens on localhost:8787 by default. Use --port to change it.

'sp serve' runs in the foreground; 'sp serve start' runs it in the
background and 'sp serve stop' stops it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the API server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background API server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8787, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.PersistentFlags().Lookup("port"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

// pidFile returns the PID file of the background server.
func pidFile() *daemon.PIDFile {
	dir, err := configDirFunc()
	if err != nil {
		return daemon.NewPIDFile(daemon.DefaultPath())
	}
	return daemon.NewPIDFile(filepath.Join(dir, "serve.pid"))
}

// serveLogPath is where the background server writes its output.
func serveLogPath() string {
	dir, err := configDirFunc()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "serve.log")
}

func serveRun() error {
	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Remove() }()

	// The tracker is built without the credential check so the plugin gets a
	// 503 it can show, instead of the server refusing to start.
	tc := trackerClient()
	if !tc.Configured() {
		ui.Warning("Tracker credentials are not configured; tracker routes will answer 503")
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	defer s.Close()

	// Exec agents run in the background, detached from the request that
	// started them; their output goes to the server log.
	d, err := newDispatcher(tc, s, os.Stderr)
	if err != nil {
		return err
	}
	d.Detach = true

	srv := api.NewServer(tc, d, s, newLLMClient(), api.Defaults{
		Board:   viper.GetInt("jira.board"),
		Project: viper.GetString("jira.project"),
	})
	srv.SetAgents(dispatch.AgentNames(d.Agents))

	addr := "127.0.0.1:" + strconv.Itoa(viper.GetInt("port"))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	ui.Info("Serving API at http://%s/api/v1", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	if dryRun {
		ui.DryRunMsg("Would start server on port %d", viper.GetInt("port"))
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	logPath := serveLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := []string{"serve", "--port", strconv.Itoa(viper.GetInt("port"))}
	if cfg, _ := rootCmd.PersistentFlags().GetString("config"); cfg != "" {
		args = append(args, "--config", cfg)
	}

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	_ = child.Process.Release()

	ui.Success("Server started (pid %d), logging to %s", child.Process.Pid, logPath)
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		_ = pf.Remove()
		return fmt.Errorf("server is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (pid %d)", pid)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, running := pf.IsRunning(); !running {
			_ = pf.Remove()
			ui.Success("Server stopped (pid %d)", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	ui.Warning("Server did not exit in time, killing pid %d", pid)
	if err := pf.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill server: %w", err)
	}
	_ = pf.Remove()
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		ui.Info("Server is not running")
		return nil
	}
	ui.Success("Server running (pid %d) on port %d", pid, viper.GetInt("port"))
	ui.Info("Log: %s", serveLogPath())
	return nil
}
