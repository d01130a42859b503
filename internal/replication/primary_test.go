package replication

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redisync/internal/command"
	"redisync/internal/resp"
)

func TestReplicationIDIs40HexChars(t *testing.T) {
	p := NewPrimary()
	id := p.ReplicationID()
	assert.Len(t, id, 40)
	for _, c := range id {
		assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
	}
}

func TestRegisterReplicaIsIdempotentPerAddr(t *testing.T) {
	p := NewPrimary()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	w := NewSafeWriter(server)
	l1 := p.RegisterReplica("10.0.0.5:6380", w)
	l2 := p.RegisterReplica("10.0.0.5:6380", w)
	assert.Equal(t, l1.ID, l2.ID)
}

func TestFanoutWritesToRegisteredReplica(t *testing.T) {
	p := NewPrimary()
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	w := NewSafeWriter(server)
	p.RegisterReplica("10.0.0.5:6380", w)

	done := make(chan resp.Frame, 1)
	go func() {
		f, err := resp.Parse(bufio.NewReader(client))
		if err == nil {
			done <- f
		}
	}()

	cmd := command.Command{Kind: command.KindSet, Key: "k", Value: resp.BulkStringFrom("v")}
	p.Fanout(cmd)

	select {
	case got := <-done:
		assert.True(t, resp.Equal(cmd.Serialize(), got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fanout write")
	}
}

func TestFanoutDropsReplicaOnWriteFailure(t *testing.T) {
	p := NewPrimary()
	server, client := net.Pipe()
	w := NewSafeWriter(server)
	p.RegisterReplica("10.0.0.5:6380", w)
	client.Close()
	server.Close()

	p.Fanout(command.Command{Kind: command.KindSet, Key: "k", Value: resp.BulkStringFrom("v")})

	require.Eventually(t, func() bool {
		return len(p.replicaSnapshot()) == 0
	}, time.Second, 10*time.Millisecond)
}
