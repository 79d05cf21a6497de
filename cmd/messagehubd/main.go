// Command messagehubd is the daemon entry point: it wires together the
// HTTP surface, a Unix-socket listener, and (when launched as a
// supervised child) a stdio peer. It registers no application RPC logic
// of its own beyond a thin in-memory session.* demo, which exists purely
// to exercise the method registry end-to-end (see internal/session).
// Configuration is env-var driven and shutdown is signal-driven and
// graceful, logging every lifecycle step along the way.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/streamspace/messagehub/internal/hub"
	"github.com/streamspace/messagehub/internal/httpapi"
	"github.com/streamspace/messagehub/internal/logger"
	"github.com/streamspace/messagehub/internal/session"
	"github.com/streamspace/messagehub/internal/transport/stdio"
	"github.com/streamspace/messagehub/internal/transport/unixsocket"
)

// version is stamped at build time via -ldflags; "dev" is the fallback
// for a locally built binary.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "messagehubd",
		Short: "MessageHub daemon: RPC + pub/sub fabric over WebSocket, Unix socket, and stdio",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MessageHub daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	logger.Initialize(getEnv("LOG_LEVEL", "info"), getEnv("LOG_PRETTY", "false") == "true")
	log := logger.Log

	port := getEnv("MESSAGEHUB_PORT", "8090")
	daemonName := getEnv("MESSAGEHUB_DAEMON_NAME", "daemon")
	authEnabled := getEnv("MESSAGEHUB_AUTH_ENABLED", "false") == "true"
	authSecret := getEnv("MESSAGEHUB_AUTH_SECRET", "")
	shutdownTimeout := getEnvDuration("MESSAGEHUB_SHUTDOWN_TIMEOUT", 10*time.Second)

	hubCfg := hub.DefaultConfig()
	hubCfg.DefaultSessionID = getEnv("MESSAGEHUB_DEFAULT_SESSION", hubCfg.DefaultSessionID)
	hubCfg.MaxPendingCalls = getEnvInt("MESSAGEHUB_MAX_PENDING_CALLS", hubCfg.MaxPendingCalls)
	hubCfg.MaxEventDepth = getEnvInt("MESSAGEHUB_MAX_EVENT_DEPTH", hubCfg.MaxEventDepth)
	hubCfg.RequestTimeout = getEnvDuration("MESSAGEHUB_REQUEST_TIMEOUT", hubCfg.RequestTimeout)

	sessions := session.NewStore()

	srv := httpapi.NewServer(httpapi.Config{
		HubConfig: hubCfg,
		Auth: httpapi.AuthConfig{
			Enabled: authEnabled,
			Secret:  []byte(authSecret),
		},
		OnNewHub: sessionHandlerHook(sessions),
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("port", port).Msg("MessageHub daemon listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sockPath := unixsocket.DaemonSocketPath(daemonName)
	sockTransport := unixsocket.New(unixsocket.Config{Mode: unixsocket.ModeServer, Path: sockPath})
	sockHub := hub.New(hubCfg)
	sessionHandlerHook(sessions)(sockHub)
	go func() {
		ctx := context.Background()
		if err := sockTransport.Initialize(ctx); err != nil {
			log.Warn().Err(err).Str("path", sockPath).Msg("unix socket listener exited")
			return
		}
		if err := sockHub.RegisterTransport(sockTransport); err != nil {
			log.Error().Err(err).Msg("failed to register unix socket transport")
			return
		}
		log.Info().Str("path", sockPath).Msg("unix socket peer connected")
	}()

	// A supervisor that launches this daemon as a child process talks to
	// it over the child's inherited stdin/stdout rather than a socket —
	// MESSAGEHUB_STDIO_PEER opts into that mode, since a plain
	// interactive/foreground run must never treat its own terminal as a
	// message stream.
	var stdioTransport *stdio.Transport
	var stdioHub *hub.MessageHub
	if getEnv("MESSAGEHUB_STDIO_PEER", "false") == "true" {
		stdioTransport = stdio.New(stdio.Config{Mode: stdio.ModeChild, Reader: os.Stdin, Writer: os.Stdout})
		stdioHub = hub.New(hubCfg)
		sessionHandlerHook(sessions)(stdioHub)
		if err := stdioHub.RegisterTransport(stdioTransport); err != nil {
			log.Error().Err(err).Msg("failed to register stdio transport")
		} else if err := stdioTransport.Initialize(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to initialize stdio transport")
		} else {
			log.Info().Msg("stdio peer attached")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	if err := sockTransport.Close(ctx); err != nil {
		log.Error().Err(err).Msg("unix socket transport failed to close cleanly")
	}
	sockHub.Cleanup()
	if stdioTransport != nil {
		if err := stdioTransport.Close(ctx); err != nil {
			log.Error().Err(err).Msg("stdio transport failed to close cleanly")
		}
		stdioHub.Cleanup()
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
