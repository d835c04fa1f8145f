package peer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/openfang-project/openfang/internal/secret"
)

// ErrSharedSecretRequired is returned by Start when Config.SharedSecret is
// empty — OpenFang refuses to expose a peer endpoint without one.
var ErrSharedSecretRequired = errors.New("peer: shared_secret is required to start a peer node")

// Handle lets the PeerNode dispatch incoming remote requests into the
// kernel without taking a concrete dependency on it.
type Handle interface {
	// LocalAgents lists this node's agents, advertised in the handshake
	// and in response to Discover requests.
	LocalAgents() []RemoteAgentInfo
	// HandleAgentMessage routes message to the named local agent and
	// returns its reply.
	HandleAgentMessage(ctx context.Context, agent, message, sender string) (string, error)
	// DiscoverAgents filters LocalAgents by a case-insensitive substring query.
	DiscoverAgents(query string) []RemoteAgentInfo
	// UptimeSecs returns the local node's uptime, used for Pong responses.
	UptimeSecs() uint64
}

// Config configures a Node.
type Config struct {
	ListenAddr   string
	NodeID       string
	NodeName     string
	SharedSecret secret.String
}

// Node is the local peer endpoint: it accepts inbound connections and
// can dial outbound to other kernels, performing the HMAC handshake on
// both sides of every connection.
type Node struct {
	cfg       Config
	registry  *Registry
	handle    Handle
	listener  net.Listener
	startTime time.Time
}

// Start binds the configured listener and begins accepting connections in
// a background goroutine. Refuses to start if SharedSecret is empty.
func Start(ctx context.Context, cfg Config, registry *Registry, handle Handle) (*Node, error) {
	if cfg.SharedSecret.IsEmpty() {
		return nil, ErrSharedSecretRequired
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if cfg.NodeName == "" {
		cfg.NodeName = "openfang-node"
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("peer: listen: %w", err)
	}

	n := &Node{cfg: cfg, registry: registry, handle: handle, listener: ln, startTime: time.Now()}
	slog.Info("peer: listening", "addr", ln.Addr(), "node_id", cfg.NodeID)

	go n.acceptLoop(ctx)
	return n, nil
}

// LocalAddr returns the actual bound address (useful after binding ":0").
func (n *Node) LocalAddr() net.Addr { return n.listener.Addr() }

// NodeID returns this node's identifier.
func (n *Node) NodeID() string { return n.cfg.NodeID }

// Registry returns the peer registry this node reports connections into.
func (n *Node) Registry() *Registry { return n.registry }

// Close stops accepting new connections.
func (n *Node) Close() error { return n.listener.Close() }

func (n *Node) acceptLoop(ctx context.Context) {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			slog.Error("peer: accept error", "error", err)
			time.Sleep(time.Second)
			continue
		}
		go n.handleInbound(ctx, conn)
	}
}

func (n *Node) handleInbound(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	addr := conn.RemoteAddr()

	msg, err := ReadMessage(conn)
	if err != nil {
		slog.Debug("peer: inbound read failed before handshake", "addr", addr, "error", err)
		return
	}

	if msg.Kind != KindRequest || msg.Request == nil || msg.Request.Kind != ReqHandshake {
		slog.Warn("peer: rejected unauthenticated message", "addr", addr)
		_ = WriteMessage(conn, errorResponse(msg.ID, 401, "Authentication required: complete HMAC handshake first"))
		return
	}

	req := msg.Request
	if req.ProtocolVersion != ProtocolVersion {
		_ = WriteMessage(conn, errorResponse(msg.ID, 1, fmt.Sprintf(
			"Protocol version mismatch: expected %d, got %d", ProtocolVersion, req.ProtocolVersion)))
		return
	}

	if !verifyHMAC(n.cfg.SharedSecret.Expose(), req.Nonce+req.NodeID, req.AuthHMAC) {
		_ = WriteMessage(conn, errorResponse(msg.ID, 403, "HMAC authentication failed"))
		return
	}

	ackNonce := uuid.NewString()
	ack := &WireMessage{
		ID:   msg.ID,
		Kind: KindResponse,
		Response: &Response{
			Kind:            RespHandshakeAck,
			NodeID:          n.cfg.NodeID,
			NodeName:        n.cfg.NodeName,
			ProtocolVersion: ProtocolVersion,
			Agents:          n.handle.LocalAgents(),
			Nonce:           ackNonce,
			AuthHMAC:        signHMAC(n.cfg.SharedSecret.Expose(), ackNonce+n.cfg.NodeID),
		},
	}
	if err := WriteMessage(conn, ack); err != nil {
		slog.Debug("peer: failed to write handshake ack", "addr", addr, "error", err)
		return
	}

	slog.Info("peer: handshake complete", "peer_node", req.NodeID, "peer_name", req.NodeName,
		"addr", addr, "agents", len(req.Agents))
	n.registry.AddPeer(Entry{
		NodeID: req.NodeID, NodeName: req.NodeName, Address: addr,
		Agents: req.Agents, State: StateConnected, ConnectedAt: time.Now(),
		ProtocolVersion: req.ProtocolVersion,
	})
	defer n.registry.MarkDisconnected(req.NodeID)

	n.connectionLoop(ctx, conn, req.NodeID)
}

// Connect dials addr, performs the HMAC handshake, registers the peer,
// and keeps the connection open in a background goroutine to service
// further requests/notifications.
func (n *Node) Connect(ctx context.Context, addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("peer: dial %s: %w", addr, err)
	}

	nonce := uuid.NewString()
	handshake := &WireMessage{
		ID:   uuid.NewString(),
		Kind: KindRequest,
		Request: &Request{
			Kind: ReqHandshake, NodeID: n.cfg.NodeID, NodeName: n.cfg.NodeName,
			ProtocolVersion: ProtocolVersion, Agents: n.handle.LocalAgents(),
			Nonce: nonce, AuthHMAC: signHMAC(n.cfg.SharedSecret.Expose(), nonce+n.cfg.NodeID),
		},
	}
	if err := WriteMessage(conn, handshake); err != nil {
		conn.Close()
		return err
	}

	resp, err := ReadMessage(conn)
	if err != nil {
		conn.Close()
		return err
	}
	if resp.Kind != KindResponse || resp.Response == nil {
		conn.Close()
		return fmt.Errorf("peer: unexpected response to handshake")
	}
	r := resp.Response
	if r.Kind == RespError {
		conn.Close()
		return fmt.Errorf("peer: remote error %d: %s", r.Code, r.Message)
	}
	if r.Kind != RespHandshakeAck {
		conn.Close()
		return fmt.Errorf("peer: unexpected response kind %q to handshake", r.Kind)
	}
	if r.ProtocolVersion != ProtocolVersion {
		conn.Close()
		return &VersionMismatchError{Local: ProtocolVersion, Remote: r.ProtocolVersion}
	}
	if !verifyHMAC(n.cfg.SharedSecret.Expose(), r.Nonce+r.NodeID, r.AuthHMAC) {
		conn.Close()
		return fmt.Errorf("peer: HMAC verification failed on HandshakeAck")
	}

	slog.Info("peer: handshake complete", "peer_node", r.NodeID, "peer_name", r.NodeName, "agents", len(r.Agents))
	n.registry.AddPeer(Entry{
		NodeID: r.NodeID, NodeName: r.NodeName, Address: conn.RemoteAddr(),
		Agents: r.Agents, State: StateConnected, ConnectedAt: time.Now(),
		ProtocolVersion: r.ProtocolVersion,
	})

	peerNodeID := r.NodeID
	go func() {
		defer conn.Close()
		defer n.registry.MarkDisconnected(peerNodeID)
		n.connectionLoop(ctx, conn, peerNodeID)
	}()
	return nil
}

// connectionLoop services an already-handshaked connection: it answers
// requests and applies notifications until the peer disconnects.
func (n *Node) connectionLoop(ctx context.Context, conn net.Conn, peerNodeID string) {
	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, ErrConnectionClosed) {
				slog.Debug("peer: connection ended", "peer_node", peerNodeID, "error", err)
			}
			return
		}

		switch msg.Kind {
		case KindNotification:
			n.handleNotification(peerNodeID, msg.Notification)
		case KindRequest:
			resp := n.handleRequest(ctx, msg)
			if err := WriteMessage(conn, resp); err != nil {
				slog.Debug("peer: failed to write response", "peer_node", peerNodeID, "error", err)
				return
			}
		case KindResponse:
			slog.Warn("peer: unexpected response message in connection loop", "peer_node", peerNodeID, "id", msg.ID)
		}
	}
}

func (n *Node) handleRequest(ctx context.Context, msg *WireMessage) *WireMessage {
	req := msg.Request
	if req == nil {
		return errorResponse(msg.ID, 400, "missing request payload")
	}
	switch req.Kind {
	case ReqPing:
		return &WireMessage{ID: msg.ID, Kind: KindResponse, Response: &Response{
			Kind: RespPong, UptimeSecs: n.handle.UptimeSecs(),
		}}
	case ReqDiscover:
		agents := n.handle.DiscoverAgents(req.Query)
		return &WireMessage{ID: msg.ID, Kind: KindResponse, Response: &Response{
			Kind: RespDiscoverResult, Agents: agents,
		}}
	case ReqAgentMessage:
		text, err := n.handle.HandleAgentMessage(ctx, req.Agent, req.Message, req.Sender)
		if err != nil {
			return errorResponse(msg.ID, 500, err.Error())
		}
		return &WireMessage{ID: msg.ID, Kind: KindResponse, Response: &Response{
			Kind: RespAgentResponse, Text: text,
		}}
	case ReqHandshake:
		return errorResponse(msg.ID, 400, "already handshaked")
	default:
		return errorResponse(msg.ID, 400, "unexpected request in connection loop")
	}
}

func (n *Node) handleNotification(peerNodeID string, notif *Notification) {
	if notif == nil {
		return
	}
	switch notif.Kind {
	case NotifAgentSpawned:
		slog.Info("peer: remote agent spawned", "peer_node", peerNodeID, "agent", notif.Agent.Name)
		n.registry.AddAgent(peerNodeID, notif.Agent)
	case NotifAgentTerminated:
		slog.Info("peer: remote agent terminated", "peer_node", peerNodeID, "agent_id", notif.AgentID)
		n.registry.RemoveAgent(peerNodeID, notif.AgentID)
	case NotifShuttingDown:
		slog.Info("peer: remote node shutting down", "peer_node", peerNodeID)
		n.registry.MarkDisconnected(peerNodeID)
	}
}

// SendToPeer opens a fresh handshaked connection to nodeID (looked up in
// the registry) and sends a single AgentMessage request, returning the
// remote agent's reply.
func (n *Node) SendToPeer(ctx context.Context, nodeID, agent, message, sender string) (string, error) {
	entry, ok := n.registry.GetPeer(nodeID)
	if !ok {
		return "", fmt.Errorf("peer: unknown peer %q", nodeID)
	}

	conn, err := net.Dial("tcp", entry.Address.String())
	if err != nil {
		return "", fmt.Errorf("peer: dial %s: %w", entry.Address, err)
	}
	defer conn.Close()

	nonce := uuid.NewString()
	handshake := &WireMessage{
		ID:   uuid.NewString(),
		Kind: KindRequest,
		Request: &Request{
			Kind: ReqHandshake, NodeID: n.cfg.NodeID, NodeName: n.cfg.NodeName,
			ProtocolVersion: ProtocolVersion, Agents: n.handle.LocalAgents(),
			Nonce: nonce, AuthHMAC: signHMAC(n.cfg.SharedSecret.Expose(), nonce+n.cfg.NodeID),
		},
	}
	if err := WriteMessage(conn, handshake); err != nil {
		return "", err
	}
	ack, err := ReadMessage(conn)
	if err != nil {
		return "", err
	}
	if ack.Response == nil || ack.Response.Kind != RespHandshakeAck {
		if ack.Response != nil && ack.Response.Kind == RespError {
			return "", fmt.Errorf("peer: remote error %d: %s", ack.Response.Code, ack.Response.Message)
		}
		return "", fmt.Errorf("peer: unexpected response to handshake")
	}
	if !verifyHMAC(n.cfg.SharedSecret.Expose(), ack.Response.Nonce+ack.Response.NodeID, ack.Response.AuthHMAC) {
		return "", fmt.Errorf("peer: HMAC verification failed on HandshakeAck")
	}

	msg := &WireMessage{
		ID:   uuid.NewString(),
		Kind: KindRequest,
		Request: &Request{
			Kind: ReqAgentMessage, Agent: agent, Message: message, Sender: sender,
		},
	}
	if err := WriteMessage(conn, msg); err != nil {
		return "", err
	}
	resp, err := ReadMessage(conn)
	if err != nil {
		return "", err
	}
	if resp.Response == nil {
		return "", fmt.Errorf("peer: unexpected response type")
	}
	switch resp.Response.Kind {
	case RespAgentResponse:
		return resp.Response.Text, nil
	case RespError:
		return "", fmt.Errorf("peer: remote error %d: %s", resp.Response.Code, resp.Response.Message)
	default:
		return "", fmt.Errorf("peer: unexpected response type %q", resp.Response.Kind)
	}
}

// BroadcastNotification fires notif at every connected peer, best-effort.
// Returns the (nodeID, error) pairs for any sends that failed.
func BroadcastNotification(registry *Registry, notif Notification) []error {
	var errs []error
	for _, peerEntry := range registry.ConnectedPeers() {
		conn, err := net.Dial("tcp", peerEntry.Address.String())
		if err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", peerEntry.NodeID, err))
			continue
		}
		msg := &WireMessage{ID: uuid.NewString(), Kind: KindNotification, Notification: &notif}
		if err := WriteMessage(conn, msg); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", peerEntry.NodeID, err))
		}
		conn.Close()
	}
	return errs
}

func signHMAC(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyHMAC recomputes the expected signature and compares it to sig in
// constant time, so a timing side-channel can't be used to forge a valid
// HMAC a byte at a time.
func verifyHMAC(secret, data, sig string) bool {
	expected := signHMAC(secret, data)
	return hmac.Equal([]byte(expected), []byte(sig))
}
