package peer

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/openfang-project/openfang/internal/secret"
)

func dialRaw(addr string) (net.Conn, error) {
	return net.Dial("tcp", addr)
}

type fakeHandle struct {
	agents    []RemoteAgentInfo
	reply     string
	replyErr  error
	startedAt time.Time
}

func (h *fakeHandle) LocalAgents() []RemoteAgentInfo { return h.agents }

func (h *fakeHandle) HandleAgentMessage(ctx context.Context, agent, message, sender string) (string, error) {
	if h.replyErr != nil {
		return "", h.replyErr
	}
	return h.reply, nil
}

func (h *fakeHandle) DiscoverAgents(query string) []RemoteAgentInfo {
	q := strings.ToLower(query)
	var out []RemoteAgentInfo
	for _, a := range h.agents {
		if strings.Contains(strings.ToLower(a.Name), q) {
			out = append(out, a)
		}
	}
	return out
}

func (h *fakeHandle) UptimeSecs() uint64 {
	return uint64(time.Since(h.startedAt).Seconds())
}

func startTestNode(t *testing.T, nodeID, sharedSecret string, agents []RemoteAgentInfo) (*Node, *Registry) {
	t.Helper()
	reg := NewRegistry()
	handle := &fakeHandle{agents: agents, reply: "pong-from-" + nodeID, startedAt: time.Now()}
	n, err := Start(context.Background(), Config{
		ListenAddr: "127.0.0.1:0", NodeID: nodeID, NodeName: nodeID, SharedSecret: secret.New(sharedSecret),
	}, reg, handle)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n, reg
}

func TestPeerConfigRefusesEmptySecret(t *testing.T) {
	_, err := Start(context.Background(), Config{ListenAddr: "127.0.0.1:0"}, NewRegistry(), &fakeHandle{})
	if err != ErrSharedSecretRequired {
		t.Fatalf("expected ErrSharedSecretRequired, got %v", err)
	}
}

func TestPeerStartAndConnect(t *testing.T) {
	serverAgents := []RemoteAgentInfo{{ID: "a1", Name: "assistant", State: "idle"}}
	server, serverReg := startTestNode(t, "node-server", "s3cr3t", serverAgents)

	client, clientReg := startTestNode(t, "node-client", "s3cr3t", nil)

	if err := client.Connect(context.Background(), server.LocalAddr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if clientReg.ConnectedCount() != 1 {
		t.Fatalf("expected client to register 1 connected peer, got %d", clientReg.ConnectedCount())
	}
	if serverReg.ConnectedCount() != 1 {
		t.Fatalf("expected server to register 1 connected peer, got %d", serverReg.ConnectedCount())
	}
	entry, ok := clientReg.GetPeer("node-server")
	if !ok {
		t.Fatalf("expected client to have registered node-server")
	}
	if len(entry.Agents) != 1 || entry.Agents[0].Name != "assistant" {
		t.Fatalf("expected advertised agent roster, got %+v", entry.Agents)
	}
}

func TestPeerConnectWrongSecretRejected(t *testing.T) {
	server, _ := startTestNode(t, "node-server", "correct-secret", nil)
	client, _ := startTestNode(t, "node-client", "wrong-secret", nil)

	err := client.Connect(context.Background(), server.LocalAddr().String())
	if err == nil {
		t.Fatalf("expected handshake failure with mismatched secret")
	}
}

func TestUnauthenticatedAgentMessageRejected(t *testing.T) {
	server, _ := startTestNode(t, "node-server", "s3cr3t", nil)

	conn, err := dialRaw(server.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := &WireMessage{ID: "req-1", Kind: KindRequest, Request: &Request{
		Kind: ReqAgentMessage, Agent: "a1", Message: "hi", Sender: "u1",
	}}
	if err := WriteMessage(conn, msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	resp, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if resp.Response == nil || resp.Response.Kind != RespError || resp.Response.Code != 401 {
		t.Fatalf("expected 401 error response, got %+v", resp.Response)
	}
}

func TestUnauthenticatedPingRejected(t *testing.T) {
	server, _ := startTestNode(t, "node-server", "s3cr3t", nil)

	conn, err := dialRaw(server.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := &WireMessage{ID: "req-1", Kind: KindRequest, Request: &Request{Kind: ReqPing}}
	if err := WriteMessage(conn, msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	resp, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if resp.Response == nil || resp.Response.Kind != RespError || resp.Response.Code != 401 {
		t.Fatalf("expected 401 error response, got %+v", resp.Response)
	}
}

func TestUnauthenticatedDiscoverRejected(t *testing.T) {
	server, _ := startTestNode(t, "node-server", "s3cr3t", nil)

	conn, err := dialRaw(server.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := &WireMessage{ID: "req-1", Kind: KindRequest, Request: &Request{Kind: ReqDiscover, Query: "assist"}}
	if err := WriteMessage(conn, msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	resp, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if resp.Response == nil || resp.Response.Kind != RespError || resp.Response.Code != 401 {
		t.Fatalf("expected 401 error response, got %+v", resp.Response)
	}
}

func TestHandshakeAndMessageLoop(t *testing.T) {
	serverAgents := []RemoteAgentInfo{{ID: "a1", Name: "assistant", State: "idle"}}
	server, _ := startTestNode(t, "node-server", "shared", serverAgents)
	client, _ := startTestNode(t, "node-client", "shared", nil)

	if err := client.Connect(context.Background(), server.LocalAddr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	text, err := client.SendToPeer(context.Background(), "node-server", "a1", "hello", "u1")
	if err != nil {
		t.Fatalf("SendToPeer: %v", err)
	}
	if text != "pong-from-node-server" {
		t.Fatalf("unexpected reply: %q", text)
	}
}

func TestPeerFindAgentsFromHandshakeRoster(t *testing.T) {
	server, _ := startTestNode(t, "node-server", "shared", []RemoteAgentInfo{
		{ID: "a1", Name: "billing-assistant", State: "idle"},
		{ID: "a2", Name: "support-bot", State: "idle"},
	})
	client, clientReg := startTestNode(t, "node-client", "shared", nil)

	if err := client.Connect(context.Background(), server.LocalAddr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	found := clientReg.FindAgents("billing")
	if len(found) != 1 || found[0].Name != "billing-assistant" {
		t.Fatalf("expected 1 match for 'billing', got %+v", found)
	}
}

func TestVerifyHMACRejectsTamperedSignature(t *testing.T) {
	sig := signHMAC("secret", "payload")
	if !verifyHMAC("secret", "payload", sig) {
		t.Fatalf("expected valid signature to verify")
	}
	if verifyHMAC("secret", "payload", sig+"x") {
		t.Fatalf("expected tampered signature to fail verification")
	}
	if verifyHMAC("wrong-secret", "payload", sig) {
		t.Fatalf("expected signature under wrong secret to fail verification")
	}
}
