package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	mirageerrors "github.com/miragekit/core/internal/errors"
	"github.com/miragekit/core/internal/control"
	"github.com/miragekit/core/internal/identity"
	"github.com/miragekit/core/internal/logger"
	"github.com/miragekit/core/internal/session"
	"github.com/miragekit/core/internal/signaling"
)

type connectFlags struct {
	controlAddr string
	dataAddr    string
	deviceID    string
	deviceName  string
	deviceType  string
	logLevel    string

	signalingURL       string
	signalingAppID     string
	signalingHostID    string
	signalingSessionID string
}

var cFlags connectFlags

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a MirageKit host and stream its shared display",
	RunE:  runConnect,
}

func init() {
	connectCmd.Flags().StringVar(&cFlags.controlAddr, "control-addr", "127.0.0.1:7300", "host TCP control address")
	connectCmd.Flags().StringVar(&cFlags.dataAddr, "data-addr", "127.0.0.1:7301", "host UDP media address")
	connectCmd.Flags().StringVar(&cFlags.deviceID, "device-id", "", "stable device identifier (default: generated UUID)")
	connectCmd.Flags().StringVar(&cFlags.deviceName, "device-name", "mirage-client", "device name presented in the handshake")
	connectCmd.Flags().StringVar(&cFlags.deviceType, "device-type", "desktop", "device type presented in the handshake")
	connectCmd.Flags().StringVar(&cFlags.logLevel, "log.level", "", "override the initial log level (debug|info|warn|error)")
	connectCmd.Flags().StringVar(&cFlags.signalingURL, "signaling-url", "", "optional HTTPS signaling service base URL (spec §6); when set, resolves control/data addresses via a pre-handshake Join before dialing")
	connectCmd.Flags().StringVar(&cFlags.signalingAppID, "signaling-app-id", "mirage-client", "app-level identifier presented to the signaling service")
	connectCmd.Flags().StringVar(&cFlags.signalingHostID, "signaling-host-id", "", "target host's device identifier, passed to the signaling service's Join call")
	connectCmd.Flags().StringVar(&cFlags.signalingSessionID, "signaling-session-id", "", "existing signaling session ID to join (default: host creates a new one)")
}

func runConnect(cmd *cobra.Command, args []string) error {
	logger.Init()
	if cFlags.logLevel != "" {
		if err := logger.SetLevel(cFlags.logLevel); err != nil {
			return err
		}
	}
	log := logger.Logger()

	deviceID := cFlags.deviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	id, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}

	if cFlags.signalingURL != "" {
		resolveAddressesViaSignaling(log, id)
	}

	nc, err := net.DialTimeout("tcp", cFlags.controlAddr, control.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("dial control address: %w", err)
	}
	conn := control.NewConn(nc)

	capabilities := map[string]any{"maxPacketSize": 1280}
	negotiation := map[string]any{}
	result, err := control.ClientHandshake(conn, id, deviceID, cFlags.deviceName, cFlags.deviceType, 2, capabilities, negotiation)
	if err != nil {
		nc.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	hello := &control.HelloV2{DeviceID: deviceID, KeyID: id.KeyID(), Nonce: hex.EncodeToString(result.ClientNonce)}
	inputs := session.CanonicalHelloFieldsForDerivation(hello, result.Response)
	sessionKey, err := session.DeriveSessionKeyFromHandshake(id, result.Response.HostPublicKey, inputs)
	if err != nil {
		nc.Close()
		return fmt.Errorf("derive session key: %w", err)
	}

	msc, err := session.NewMediaSessionContext(sessionKey, result.Response.UDPRegistrationToken)
	if err != nil {
		nc.Close()
		return fmt.Errorf("build media session context: %w", err)
	}

	log.Info("handshake accepted", "host_id", result.Response.HostID, "host_key_id", result.Response.HostKeyID)

	dataConn, err := net.Dial("udp", cFlags.dataAddr)
	if err != nil {
		nc.Close()
		return fmt.Errorf("dial data address: %w", err)
	}

	if _, err := dataConn.Write(session.BuildTokenRegistration(msc.UDPRegistrationToken)); err != nil {
		nc.Close()
		dataConn.Close()
		return fmt.Errorf("send udp registration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cl := newClientSession(conn, dataConn, msc, log)

	go cl.receiveLoop(ctx)
	go cl.recoveryLoop(ctx)

	if err := cl.controlReadLoop(ctx); err != nil && ctx.Err() == nil {
		log.Warn("control read loop exited", "error", err)
	}

	nc.Close()
	dataConn.Close()
	return nil
}

// isTimeout narrows a control-channel read error down to "nothing arrived in
// time", which the control read loop treats as a liveness check rather than
// a fatal disconnect.
func isTimeout(err error) bool {
	return mirageerrors.IsTimeout(err)
}

// resolveAddressesViaSignaling performs the optional external signaling
// pre-handshake (spec §6: /v1/session/join, STUN-discovered candidates)
// before the TCP control dial, overriding cFlags.controlAddr/dataAddr with
// the first candidate's address when the join succeeds. The signaling
// service is an optional collaborator: a failure here is logged and the
// caller falls back to the --control-addr/--data-addr flags as given.
func resolveAddressesViaSignaling(log *slog.Logger, id *identity.Identity) {
	sig := signaling.NewClient(cFlags.signalingURL, cFlags.signalingAppID, id, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	handle, err := sig.Join(ctx, cFlags.signalingSessionID, cFlags.signalingHostID)
	if err != nil {
		log.Warn("signaling join failed, falling back to direct addresses", "error", err)
		return
	}
	if len(handle.Candidates) == 0 {
		log.Info("signaling join returned no candidates, using direct addresses", "session_id", handle.SessionID)
		return
	}

	cand := handle.Candidates[0]
	controlAddr := net.JoinHostPort(cand.Address, strconv.Itoa(cand.Port))
	dataAddr := net.JoinHostPort(cand.Address, strconv.Itoa(cand.Port+1))
	log.Info("resolved host address via signaling", "session_id", handle.SessionID, "transport", cand.Transport, "control_addr", controlAddr, "data_addr", dataAddr)
	cFlags.controlAddr = controlAddr
	cFlags.dataAddr = dataAddr
}
