package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redisync/internal/command"
	"redisync/internal/resp"
	"redisync/internal/store"
)

func newPrimary() *Runtime {
	return NewPrimaryRuntime(store.New(), "127.0.0.1", 6379)
}

func TestPingPong(t *testing.T) {
	rt := newPrimary()
	reply := rt.Execute(command.Command{Kind: command.KindPing}, &PeerContext{Addr: "1.1.1.1:1"})
	require.Len(t, reply.Frames, 1)
	assert.Equal(t, resp.SimpleString("PONG"), reply.Frames[0])
}

func TestSetThenGet(t *testing.T) {
	rt := newPrimary()
	peer := &PeerContext{Addr: "1.1.1.1:1"}

	setReply := rt.Execute(command.Command{Kind: command.KindSet, Key: "k", Value: resp.BulkStringFrom("v")}, peer)
	require.Len(t, setReply.Frames, 1)
	assert.Equal(t, resp.SimpleString("OK"), setReply.Frames[0])

	getReply := rt.Execute(command.Command{Kind: command.KindGet, Key: "k"}, peer)
	require.Len(t, getReply.Frames, 1)
	assert.Equal(t, "v", string(getReply.Frames[0].Bulk))
}

func TestGetMissingReturnsNull(t *testing.T) {
	rt := newPrimary()
	reply := rt.Execute(command.Command{Kind: command.KindGet, Key: "nope"}, &PeerContext{Addr: "1.1.1.1:1"})
	require.Len(t, reply.Frames, 1)
	assert.Equal(t, resp.KindNullBulkString, reply.Frames[0].Kind)
}

func TestInfoReplicationOnPrimary(t *testing.T) {
	rt := newPrimary()
	reply := rt.Execute(command.Command{Kind: command.KindInfo, Section: "replication"}, &PeerContext{Addr: "1.1.1.1:1"})
	require.Len(t, reply.Frames, 1)
	assert.Contains(t, string(reply.Frames[0].Bulk), "role:master")
}

func TestInfoUnsupportedSectionErrors(t *testing.T) {
	rt := newPrimary()
	reply := rt.Execute(command.Command{Kind: command.KindInfo, Section: "server"}, &PeerContext{Addr: "1.1.1.1:1"})
	require.Len(t, reply.Frames, 1)
	assert.Equal(t, resp.SimpleError("Unknown arg for INFO: server"), reply.Frames[0])
}

func TestInfoReplicationOnReplicaReportsReplID(t *testing.T) {
	rt := NewReplicaRuntime(store.New(), "127.0.0.1", 6380, "127.0.0.1:6379")
	reply := rt.Execute(command.Command{Kind: command.KindInfo, Section: "replication"}, &PeerContext{Addr: "1.1.1.1:1"})
	require.Len(t, reply.Frames, 1)
	body := string(reply.Frames[0].Bulk)
	assert.Contains(t, body, "role:slave")
	assert.Contains(t, body, "master_replid:")
}

// Gating a client's own write against a replica, and letting a write
// applied from the registered from-primary connection through
// silently, both turn on Replica.IsFromPrimary's conn-identity check —
// exercised end to end in conn.TestGatingUsesReplicaConnIdentity, since
// that identity is only ever established by a live handshake.

func TestReplicaReadsAlwaysReply(t *testing.T) {
	rt := NewReplicaRuntime(store.New(), "127.0.0.1", 6380, "127.0.0.1:6379")
	reply := rt.Execute(command.Command{Kind: command.KindGet, Key: "k"}, &PeerContext{Addr: "2.2.2.2:2"})
	assert.False(t, reply.Suppressed)
	require.Len(t, reply.Frames, 1)
}

func TestReplConfOnReplicaRejected(t *testing.T) {
	rt := NewReplicaRuntime(store.New(), "127.0.0.1", 6380, "127.0.0.1:6379")
	reply := rt.Execute(command.Command{
		Kind:     command.KindReplConf,
		ReplConf: command.ReplConfArg{Kind: command.ReplConfListeningPort, Port: 1234},
	}, &PeerContext{Addr: "2.2.2.2:2"})
	require.Len(t, reply.Frames, 1)
	assert.Equal(t, resp.SimpleError("You can't sync with a replica"), reply.Frames[0])
}

func TestReplConfCapaOnReplicaStillOK(t *testing.T) {
	rt := NewReplicaRuntime(store.New(), "127.0.0.1", 6380, "127.0.0.1:6379")
	reply := rt.Execute(command.Command{
		Kind:     command.KindReplConf,
		ReplConf: command.ReplConfArg{Kind: command.ReplConfCapabilities, Capabilities: []string{"psync2"}},
	}, &PeerContext{Addr: "2.2.2.2:2"})
	require.Len(t, reply.Frames, 1)
	assert.Equal(t, resp.SimpleString("OK"), reply.Frames[0])
}

func TestPsyncProducesCompoundReply(t *testing.T) {
	rt := newPrimary()
	reply := rt.Execute(command.Command{Kind: command.KindPsync, MasterID: "?", Offset: -1}, &PeerContext{Addr: "2.2.2.2:2"})
	require.Len(t, reply.Frames, 2)
	assert.Equal(t, resp.KindSimpleString, reply.Frames[0].Kind)
	assert.Contains(t, reply.Frames[0].Str, "FULLRESYNC")
	assert.Equal(t, resp.KindSnapshotBlob, reply.Frames[1].Kind)
	assert.True(t, reply.SnapshotIndexes[1])
}

func TestPsyncRejectsPartialResyncRequest(t *testing.T) {
	rt := newPrimary()
	reply := rt.Execute(command.Command{Kind: command.KindPsync, MasterID: "abc", Offset: 10}, &PeerContext{Addr: "2.2.2.2:2"})
	require.Len(t, reply.Frames, 1)
	assert.Equal(t, resp.SimpleError("Not capable of syncing with those options"), reply.Frames[0])
}
