package replication

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"redisync/internal/command"
	"redisync/internal/resp"
)

// HandshakeState is a replica's position in the primary handshake.
type HandshakeState int

const (
	StateDisconnected HandshakeState = iota
	StatePing
	StateReplConfPort
	StateReplConfCapa
	StatePsync
	StateReady
)

// Replica is the replication state a server running in the replica
// role holds: the primary it syncs from and its current handshake
// state.
type Replica struct {
	primaryAddr string

	mu     sync.RWMutex
	state  HandshakeState
	conn   net.Conn // the single from-primary connection, once established
	replID string   // learned from the primary's FULLRESYNC line
}

// NewReplica creates replication state for a server configured with
// --replicaof primaryAddr.
func NewReplica(primaryAddr string) *Replica {
	return &Replica{primaryAddr: primaryAddr, state: StateDisconnected}
}

// PrimaryAddr returns the configured "host:port" of this replica's primary.
func (r *Replica) PrimaryAddr() string { return r.primaryAddr }

// State returns the current handshake state.
func (r *Replica) State() HandshakeState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// IsFromPrimary reports whether conn is the registered from-primary
// connection — the gating rule in the connection pipeline uses this to
// tell a client write attempt from a write applied from the primary.
func (r *Replica) IsFromPrimary(conn net.Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return conn != nil && r.conn != nil && r.conn == conn
}

// ReplicationID returns the primary's replication ID as learned from
// the last successful FULLRESYNC, or "" before any handshake completes.
func (r *Replica) ReplicationID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.replID
}

func (r *Replica) setState(s HandshakeState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Replica) setConn(conn net.Conn) {
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
}

func (r *Replica) setReplID(id string) {
	r.mu.Lock()
	r.replID = id
	r.mu.Unlock()
}

// minBackoff, maxBackoff bound the handshake retry delay: start at 1s,
// double on each failure, cap at 30s, reset to minBackoff on success.
const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// ReadyFunc is invoked once the handshake reaches StateReady. It is
// handed the live connection and a reader already positioned right
// after the snapshot blob, and is expected to run the replica's apply
// loop, blocking until the connection is lost. Its return unblocks the
// retry loop, which redials after backoff.
type ReadyFunc func(ctx context.Context, conn net.Conn, reader *bufio.Reader)

// Run drives the replica's connect/handshake/apply/retry state machine
// until ctx is cancelled. ownPort is announced via REPLCONF
// listening-port.
func (r *Replica) Run(ctx context.Context, ownPort uint16, onReady ReadyFunc) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, reader, err := r.handshake(ownPort)
		if err != nil {
			log.Warn("handshake failed, retrying", "primary", r.primaryAddr, "error", err.Error(), "backoff", backoff.String())
			r.setState(StateDisconnected)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		// Handshake reached S5: reset backoff and hand the connection
		// to the apply loop, which blocks until it is lost.
		backoff = minBackoff
		r.setConn(conn)
		r.setState(StateReady)
		onReady(ctx, conn, reader)

		r.setConn(nil)
		r.setState(StateDisconnected)
		_ = conn.Close()

		if !sleepOrDone(ctx, backoff) {
			return
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// handshake runs states S0 through S4 against a freshly dialed
// connection to the primary, returning the connection and its reader
// positioned right after the snapshot blob on success.
func (r *Replica) handshake(ownPort uint16) (net.Conn, *bufio.Reader, error) {
	conn, err := net.DialTimeout("tcp", r.primaryAddr, 5*time.Second)
	if err != nil {
		return nil, nil, errors.Wrap(err, "replication: dial primary")
	}

	reader := bufio.NewReader(conn)
	w := NewSafeWriter(conn)

	r.setState(StatePing)
	if err := sendAndExpectSimpleString(w, reader, command.Command{Kind: command.KindPing}, "PONG"); err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "replication: PING step")
	}

	r.setState(StateReplConfPort)
	portCmd := command.Command{
		Kind: command.KindReplConf,
		ReplConf: command.ReplConfArg{
			Kind: command.ReplConfListeningPort,
			Port: ownPort,
		},
	}
	if err := sendAndExpectSimpleString(w, reader, portCmd, "OK"); err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "replication: REPLCONF listening-port step")
	}

	r.setState(StateReplConfCapa)
	capaCmd := command.Command{
		Kind: command.KindReplConf,
		ReplConf: command.ReplConfArg{
			Kind:         command.ReplConfCapabilities,
			Capabilities: []string{"psync2"},
		},
	}
	if err := sendAndExpectSimpleString(w, reader, capaCmd, "OK"); err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "replication: REPLCONF capa step")
	}

	r.setState(StatePsync)
	psyncCmd := command.Command{Kind: command.KindPsync, MasterID: "?", Offset: -1}
	if err := w.WriteFrame(psyncCmd.Serialize()); err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "replication: send PSYNC")
	}

	reply, err := resp.Parse(reader)
	if err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "replication: read PSYNC reply")
	}
	if reply.Kind != resp.KindSimpleString {
		conn.Close()
		return nil, nil, errors.Errorf("replication: PSYNC reply is not a simple string: %s", reply)
	}
	replID, err := validateFullResync(reply.Str)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	r.setReplID(replID)

	snapshot, err := resp.ReadSnapshotBlob(reader)
	if err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "replication: read snapshot blob")
	}
	if !strings.HasPrefix(string(snapshot.Bulk), SnapshotMagic) {
		conn.Close()
		return nil, nil, errors.Errorf("replication: snapshot missing %q magic", SnapshotMagic)
	}

	return conn, reader, nil
}

func sendAndExpectSimpleString(w *SafeWriter, r *bufio.Reader, cmd command.Command, want string) error {
	if err := w.WriteFrame(cmd.Serialize()); err != nil {
		return errors.Wrap(err, "write")
	}
	reply, err := resp.Parse(r)
	if err != nil {
		return errors.Wrap(err, "read reply")
	}
	if reply.Kind != resp.KindSimpleString || !strings.EqualFold(reply.Str, want) {
		return errors.Errorf("expected simple string %q, got %s", want, reply)
	}
	return nil
}

// validateFullResync checks a "+FULLRESYNC <replid> <offset>" reply,
// where the offset must parse as 0 on a fresh, full-resync-only
// handshake, and returns the primary's replid.
func validateFullResync(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || !strings.EqualFold(fields[0], "FULLRESYNC") {
		return "", errors.Errorf("replication: malformed FULLRESYNC line %q", line)
	}
	offset, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || offset != 0 {
		return "", errors.Errorf("replication: unexpected FULLRESYNC offset in %q", line)
	}
	return fields[1], nil
}
