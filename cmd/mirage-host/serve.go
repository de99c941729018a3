package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/miragekit/core/internal/archive"
	"github.com/miragekit/core/internal/config"
	"github.com/miragekit/core/internal/display"
	"github.com/miragekit/core/internal/identity"
	"github.com/miragekit/core/internal/logger"
	"github.com/miragekit/core/internal/metrics"
	"github.com/miragekit/core/internal/sender"
)

// serveFlags mirrors the teacher's cmd/rtmp-server flags.go shape: plain
// fields populated by cobra, validated in RunE rather than a separate
// parseFlags pass (cobra already owns argv parsing here).
var serveFlags struct {
	controlAddr string
	dataAddr    string
	hostID      string
	configPath  string
	width       int
	height      int
	logLevel    string

	archiveAccountURL string
	archiveContainer  string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MirageKit streaming host",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.controlAddr, "control-addr", ":9847", "TCP control channel listen address")
	serveCmd.Flags().StringVar(&serveFlags.dataAddr, "data-addr", ":9848", "UDP media data listen address")
	serveCmd.Flags().StringVar(&serveFlags.hostID, "host-id", "", "host device identifier advertised in the handshake (defaults to the identity keyID)")
	serveCmd.Flags().StringVar(&serveFlags.configPath, "config", "", "path to a JSON config file (hot-reloaded if set)")
	serveCmd.Flags().IntVar(&serveFlags.width, "width", 1920, "virtual display / capture width in pixels")
	serveCmd.Flags().IntVar(&serveFlags.height, "height", 1080, "virtual display / capture height in pixels")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log.level", "", "log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&serveFlags.archiveAccountURL, "archive", "", "Azure Blob Storage account URL to record sessions to (disabled if empty)")
	serveCmd.Flags().StringVar(&serveFlags.archiveContainer, "archive-container", "mirage-sessions", "Azure Blob Storage container for recorded sessions")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Init()
	if serveFlags.logLevel != "" {
		if err := logger.SetLevel(serveFlags.logLevel); err != nil {
			fmt.Fprintf(os.Stderr, "warning: invalid log level %q, using default\n", serveFlags.logLevel)
		}
	}
	log := logger.Logger().With("component", "cmd.mirage-host")

	cfg := config.New()
	if serveFlags.configPath != "" {
		loaded, err := config.LoadFile(serveFlags.configPath)
		if err != nil {
			return fmt.Errorf("mirage-host: load config: %w", err)
		}
		cfg = loaded
	}

	id, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("mirage-host: generate identity: %w", err)
	}
	hostID := serveFlags.hostID
	if hostID == "" {
		hostID = id.KeyID()
	}
	log.Info("host identity ready", "host_id", hostID, "key_id", id.KeyID())

	m := metrics.NewMetrics()

	displayMgr := display.NewSharedVirtualDisplayManager(syntheticCreateDisplay, syntheticDestroyDisplay, syntheticResizeInPlace)

	var recorder *archive.Recorder
	if serveFlags.archiveAccountURL != "" {
		recorder, err = archive.NewRecorder(serveFlags.archiveAccountURL, serveFlags.archiveContainer)
		if err != nil {
			return fmt.Errorf("mirage-host: start session recorder: %w", err)
		}
		log.Info("session recording enabled", "account_url", serveFlags.archiveAccountURL, "container", serveFlags.archiveContainer)
	}

	host := newHostService(id, hostID, cfg, m, displayMgr, recorder, log)

	var watcher *config.Watcher
	if serveFlags.configPath != "" {
		w, err := config.NewWatcher(serveFlags.configPath, host.applyReloadableConfig)
		if err != nil {
			return fmt.Errorf("mirage-host: start config watcher: %w", err)
		}
		watcher = w
		defer watcher.Close()
	}

	dataConn, err := net.ListenPacket("udp", serveFlags.dataAddr)
	if err != nil {
		return fmt.Errorf("mirage-host: listen udp %s: %w", serveFlags.dataAddr, err)
	}
	defer dataConn.Close()
	if err := sender.ConfigurePacketConn(dataConn); err != nil {
		log.Warn("could not tune media socket options", "error", err)
	}
	host.dataConn = dataConn
	go host.receiveUDP()

	controlLn, err := net.Listen("tcp", serveFlags.controlAddr)
	if err != nil {
		return fmt.Errorf("mirage-host: listen tcp %s: %w", serveFlags.controlAddr, err)
	}
	defer controlLn.Close()

	log.Info("host listening", "control_addr", controlLn.Addr().String(), "data_addr", dataConn.LocalAddr().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go acceptLoop(ctx, controlLn, host, log)

	<-ctx.Done()
	log.Info("shutdown signal received")
	host.shutdown()
	return nil
}

func acceptLoop(ctx context.Context, ln net.Listener, host *hostService, log *slog.Logger) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Warn("accept failed", "error", err)
			continue
		}
		go host.handleConnection(ctx, nc)
	}
}
