package stubnode

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"node-probe/handshake"
	"node-probe/protocol"
)

// rawSession dials the stub with a bare websocket client and performs the
// handshake, returning the open conn.
func rawSession(t *testing.T, n *Node) *websocket.Conn {
	t.Helper()
	if err := n.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(n.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(n.URL(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	hello, _ := json.Marshal(handshake.NewMessage(handshake.NewConfig(),
		protocol.MustParseHash(probeGenesis)))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatal(err)
	}
	return conn
}

const probeGenesis = "5972ecbfbc42507482dbcb0a2892bcd70161fd9acdfdf7e6455ab39bac3dfb83"

func TestHandshakeEchoesGenesis(t *testing.T) {
	conn := rawSession(t, New())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}

	var reply handshake.Message
	if err := json.Unmarshal(frame, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.GenesisHash.String() != probeGenesis {
		t.Fatalf("stub did not echo client genesis: %s", reply.GenesisHash)
	}
	if reply.Version != handshake.ProtocolVersion {
		t.Fatalf("unexpected handshake version %d", reply.Version)
	}
}

func TestAnswersRegisteredMethods(t *testing.T) {
	conn := rawSession(t, New())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil { // handshake reply
		t.Fatal(err)
	}

	req, _ := json.Marshal(protocol.NewRequest(1, "system_name", nil))
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatal(err)
	}

	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	resp, err := protocol.DecodeResponse(frame)
	if err != nil {
		t.Fatal(err)
	}

	var name string
	if err := json.Unmarshal(resp.Result, &name); err != nil {
		t.Fatal(err)
	}
	if name != DefaultName {
		t.Fatalf("expect %q, got %q", DefaultName, name)
	}
}

func TestUnknownMethodError(t *testing.T) {
	conn := rawSession(t, New())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil { // handshake reply
		t.Fatal(err)
	}

	req, _ := json.Marshal(protocol.NewRequest(2, "system_reboot", nil))
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatal(err)
	}

	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	resp, err := protocol.DecodeResponse(frame)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expect method-not-found error, got %+v", resp)
	}
}
