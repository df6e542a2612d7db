package probe_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"node-probe/handshake"
	"node-probe/probe"
	"node-probe/protocol"
	"node-probe/rpc"
	"node-probe/stubnode"
)

var testGenesis = protocol.MustParseHash(probe.DefaultGenesisHash)

func startStub(t *testing.T, opts ...stubnode.Option) *stubnode.Node {
	t.Helper()
	stub := stubnode.New(opts...)
	require.NoError(t, stub.Start())
	t.Cleanup(stub.Close)
	return stub
}

func TestIdentifyEndToEnd(t *testing.T) {
	stub := startStub(t)

	conn := probe.NewConnection(probe.Endpoint{
		NodeAddress: stub.URL(),
		GenesisHash: testGenesis,
	})
	defer conn.Close()

	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))
	require.Equal(t, handshake.StateAuthenticated, conn.State())

	info, err := conn.Identify(ctx)
	require.NoError(t, err)
	require.Equal(t, probe.Info{
		Name:    "Substrate Node",
		Chain:   "Development",
		Version: "0.0.0-d70f8f9",
	}, info)
}

func TestIdentifyRepliesInReverseOrder(t *testing.T) {
	// The stub holds all three responses and releases them newest-first;
	// attribution must come from the correlation id, not arrival order.
	stub := startStub(t, stubnode.WithReverseBatch(3))

	conn := probe.NewConnection(probe.Endpoint{
		NodeAddress: stub.URL(),
		GenesisHash: testGenesis,
	})
	defer conn.Close()

	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))

	info, err := conn.Identify(ctx)
	require.NoError(t, err)
	require.Equal(t, "Substrate Node", info.Name)
	require.Equal(t, "Development", info.Chain)
	require.Equal(t, "0.0.0-d70f8f9", info.Version)
}

func TestGenesisMismatchBlocksRPC(t *testing.T) {
	wrong := protocol.MustParseHash(
		"00000000000000000000000000000000000000000000000000000000000000ff")
	stub := startStub(t, stubnode.WithGenesis(wrong))

	conn := probe.NewConnection(probe.Endpoint{
		NodeAddress: stub.URL(),
		GenesisHash: testGenesis,
	})
	defer conn.Close()

	err := conn.Connect(context.Background())
	require.ErrorIs(t, err, handshake.ErrGenesisMismatch)
	require.Equal(t, handshake.StateFailed, conn.State())

	// No query may be dispatched after a failed handshake.
	_, err = conn.Call(context.Background(), probe.MethodSystemName, nil)
	require.ErrorIs(t, err, handshake.ErrNotAuthenticated)
	require.Zero(t, stub.RequestCount())
}

func TestCallBeforeConnect(t *testing.T) {
	conn := probe.NewConnection(probe.Endpoint{
		NodeAddress: probe.DefaultNodeAddress,
		GenesisHash: testGenesis,
	})
	defer conn.Close()

	_, err := conn.Call(context.Background(), probe.MethodSystemName, nil)
	require.ErrorIs(t, err, handshake.ErrNotAuthenticated)
}

func TestIdentifyUnansweredQueryFailsRun(t *testing.T) {
	stub := startStub(t)
	stub.Handle(probe.MethodSystemVersion, func(params []any) (any, *protocol.ResponseError) {
		return nil, nil // never answered
	})

	conn := probe.NewConnection(probe.Endpoint{
		NodeAddress: stub.URL(),
		GenesisHash: testGenesis,
	}, probe.WithRequestTimeout(200*time.Millisecond))
	defer conn.Close()

	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))

	_, err := conn.Identify(ctx)
	require.ErrorIs(t, err, rpc.ErrRequestTimeout)
}

func TestTwoSessionsInOneProcess(t *testing.T) {
	// Connection state is per-session, never process-wide.
	stubA := startStub(t)
	stubB := startStub(t, stubnode.WithGenesis(protocol.MustParseHash(
		"00000000000000000000000000000000000000000000000000000000000000ff")))

	connA := probe.NewConnection(probe.Endpoint{NodeAddress: stubA.URL(), GenesisHash: testGenesis})
	defer connA.Close()
	connB := probe.NewConnection(probe.Endpoint{NodeAddress: stubB.URL(), GenesisHash: testGenesis})
	defer connB.Close()

	ctx := context.Background()
	require.NoError(t, connA.Connect(ctx))
	require.ErrorIs(t, connB.Connect(ctx), handshake.ErrGenesisMismatch)

	// The failed session must not poison the healthy one.
	info, err := connA.Identify(ctx)
	require.NoError(t, err)
	require.Equal(t, "Substrate Node", info.Name)
}

func TestCloseResolvesInFlight(t *testing.T) {
	stub := startStub(t)
	stub.Handle("hang", func(params []any) (any, *protocol.ResponseError) {
		return nil, nil
	})

	conn := probe.NewConnection(probe.Endpoint{
		NodeAddress: stub.URL(),
		GenesisHash: testGenesis,
	})

	ctx := context.Background()
	require.NoError(t, conn.Connect(ctx))

	done := make(chan error, 1)
	go func() {
		_, err := conn.Call(ctx, "hang", nil)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, rpc.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call not resolved by Close")
	}
}
