package replication

import (
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"redisync/internal/command"
	"redisync/internal/logging"
	"redisync/internal/resp"
)

var log = logging.Named("replication")

// ReplicaLink is a registered downstream replica: an opaque handle to
// its write-half, guarded by its own SafeWriter mutex, plus the
// host:port it announced via REPLCONF listening-port.
type ReplicaLink struct {
	ID       string
	PeerAddr string
	Writer   *SafeWriter
}

// Primary is the replication state a server in the primary role holds:
// a stable 40-character replication ID, a monotonically increasing
// offset, and the set of currently connected replicas.
type Primary struct {
	replicationID string
	offset        int64 // atomic

	mu       sync.Mutex
	replicas map[string]*ReplicaLink // keyed by peer address
}

// NewPrimary creates replication state for a server starting as primary.
func NewPrimary() *Primary {
	return &Primary{
		replicationID: generateReplicationID(),
		replicas:      make(map[string]*ReplicaLink),
	}
}

func generateReplicationID() string {
	b := make([]byte, 20) // 20 bytes -> 40 hex characters
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on any supported platform in
		// practice; fall back to a UUID-derived id rather than panic.
		u := uuid.New()
		return fmt.Sprintf("%x%08x", u[:], 0)
	}
	return fmt.Sprintf("%x", b)
}

// ReplicationID returns the primary's stable replication identifier.
func (p *Primary) ReplicationID() string { return p.replicationID }

// Offset returns the current replication offset.
func (p *Primary) Offset() int64 { return atomic.LoadInt64(&p.offset) }

// RegisterReplica adds peerAddr as a replica writing through w, unless
// it is already registered. Returns the (possibly pre-existing) link.
func (p *Primary) RegisterReplica(peerAddr string, w *SafeWriter) *ReplicaLink {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.replicas[peerAddr]; ok {
		return existing
	}
	link := &ReplicaLink{ID: uuid.NewString(), PeerAddr: peerAddr, Writer: w}
	p.replicas[peerAddr] = link
	log.Info("replica registered", "peer", peerAddr, "id", link.ID)
	return link
}

// RemoveReplica drops peerAddr from the replica set, e.g. after a
// fanout write failure.
func (p *Primary) RemoveReplica(peerAddr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.replicas[peerAddr]; ok {
		delete(p.replicas, peerAddr)
		log.Info("replica removed", "peer", peerAddr)
	}
}

// replicaSnapshot returns a point-in-time copy of the registered links,
// so Fanout never holds the replica-set mutex while writing to sockets.
func (p *Primary) replicaSnapshot() []*ReplicaLink {
	p.mu.Lock()
	defer p.mu.Unlock()
	links := make([]*ReplicaLink, 0, len(p.replicas))
	for _, l := range p.replicas {
		links = append(links, l)
	}
	return links
}

// Fanout serializes cmd and writes it to every currently registered
// replica. It is best-effort: a write failure on a link removes that
// link and continues with the rest. The replica-set lock is released
// before any socket write, per the set-level-lock-vs-per-link-write
// discipline this server follows throughout.
func (p *Primary) Fanout(cmd command.Command) {
	frame := cmd.Serialize()
	atomic.AddInt64(&p.offset, int64(len(resp.Serialize(frame))))

	for _, link := range p.replicaSnapshot() {
		if err := link.Writer.WriteFrame(frame); err != nil {
			log.Warn("fanout write failed, dropping replica", "peer", link.PeerAddr, "error", err.Error())
			p.RemoveReplica(link.PeerAddr)
		}
	}
}
