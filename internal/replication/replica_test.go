package replication

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redisync/internal/command"
	"redisync/internal/resp"
)

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(20*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(30*time.Second))
}

// fakePrimary plays the primary side of the handshake over conn,
// asserting the exact command order the replica must send, then
// replying with FULLRESYNC and a snapshot blob.
func fakePrimary(t *testing.T, conn net.Conn) {
	t.Helper()
	reader := bufio.NewReader(conn)
	w := NewSafeWriter(conn)

	expect := func(want command.Kind) {
		frame, err := resp.Parse(reader)
		require.NoError(t, err)
		cmd, err := command.Parse(frame)
		require.NoError(t, err)
		assert.Equal(t, want, cmd.Kind)
	}

	expect(command.KindPing)
	require.NoError(t, w.WriteFrame(resp.SimpleString("PONG")))

	expect(command.KindReplConf) // listening-port
	require.NoError(t, w.WriteFrame(resp.SimpleString("OK")))

	expect(command.KindReplConf) // capa
	require.NoError(t, w.WriteFrame(resp.SimpleString("OK")))

	expect(command.KindPsync)
	require.NoError(t, w.WriteFrame(resp.SimpleString("FULLRESYNC abc123 0")))

	_, err := conn.Write(resp.SerializeSnapshot(resp.SnapshotBlob(EmptySnapshot())))
	require.NoError(t, err)
}

func TestHandshakeSucceedsInOrder(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fakePrimary(t, conn)
	}()

	r := NewReplica(ln.Addr().String())
	conn, reader, err := r.handshake(6380)
	require.NoError(t, err)
	defer conn.Close()
	assert.NotNil(t, reader)
	assert.Equal(t, "abc123", r.ReplicationID(), "handshake must learn the primary's replid off the FULLRESYNC line")
}

func TestRunReachesReadyAndAppliesCallback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fakePrimary(t, conn)
		time.Sleep(50 * time.Millisecond)
	}()

	r := NewReplica(ln.Addr().String())
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})

	go r.Run(ctx, 6380, func(ctx context.Context, conn net.Conn, reader *bufio.Reader) {
		close(ready)
		<-ctx.Done()
	})

	select {
	case <-ready:
		assert.Equal(t, StateReady, r.State())
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not reach ready state")
	}
	cancel()
}

func TestIsFromPrimaryIdentifiesTheRegisteredConn(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fakePrimary(t, conn)
		time.Sleep(50 * time.Millisecond)
	}()

	r := NewReplica(ln.Addr().String())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})

	var fromPrimaryConn net.Conn
	go r.Run(ctx, 6380, func(ctx context.Context, conn net.Conn, reader *bufio.Reader) {
		fromPrimaryConn = conn
		close(ready)
		<-ctx.Done()
	})

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not reach ready state")
	}

	assert.True(t, r.IsFromPrimary(fromPrimaryConn))

	other, otherPeer := net.Pipe()
	defer other.Close()
	defer otherPeer.Close()
	assert.False(t, r.IsFromPrimary(other))
	assert.False(t, r.IsFromPrimary(nil))
}
