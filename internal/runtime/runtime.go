// Package runtime implements the command-execution semantics shared by
// every connection pipeline: the reply-rule table (what each command
// produces, whether it is written to the socket, and whether it fans
// out to replicas), generalized from the teacher's processor.Processor
// to this spec's primary/replica command set.
package runtime

import (
	"fmt"
	"net"
	"strings"

	"redisync/internal/command"
	"redisync/internal/logging"
	"redisync/internal/replication"
	"redisync/internal/resp"
	"redisync/internal/store"
)

var log = logging.Named("runtime")

// Role distinguishes a server acting as primary from one acting as replica.
type Role int

const (
	RolePrimary Role = iota
	RoleReplica
)

// Runtime holds the keyspace and replication state shared by every
// connection on this server, and knows how to execute a single Command
// against them.
type Runtime struct {
	Store *store.Store

	role      Role
	primary   *replication.Primary // non-nil iff role == RolePrimary
	replica   *replication.Replica // non-nil iff role == RoleReplica
	bindAddr  string
	bindPort  uint16
}

// NewPrimaryRuntime builds a Runtime for a server starting as primary.
func NewPrimaryRuntime(s *store.Store, bindAddr string, bindPort uint16) *Runtime {
	return &Runtime{
		Store:    s,
		role:     RolePrimary,
		primary:  replication.NewPrimary(),
		bindAddr: bindAddr,
		bindPort: bindPort,
	}
}

// NewReplicaRuntime builds a Runtime for a server starting as a replica
// of primaryAddr.
func NewReplicaRuntime(s *store.Store, bindAddr string, bindPort uint16, primaryAddr string) *Runtime {
	return &Runtime{
		Store:    s,
		role:     RoleReplica,
		replica:  replication.NewReplica(primaryAddr),
		bindAddr: bindAddr,
		bindPort: bindPort,
	}
}

// Role reports whether this server is acting as primary or replica.
func (rt *Runtime) Role() Role { return rt.role }

// IsPrimary reports whether this server is the primary.
func (rt *Runtime) IsPrimary() bool { return rt.role == RolePrimary }

// Primary returns the primary-side replication state, or nil on a replica.
func (rt *Runtime) Primary() *replication.Primary { return rt.primary }

// Replica returns the replica-side replication state, or nil on a primary.
func (rt *Runtime) Replica() *replication.Replica { return rt.replica }

// PeerContext describes the connection a command arrived on: who it is
// from and, when acting as a primary, a handle to write fanout traffic
// back down that same socket once it becomes a replica link.
type PeerContext struct {
	Addr   string // peer's "ip:port" as seen by net.Conn.RemoteAddr
	Conn   net.Conn
	Writer *replication.SafeWriter
}

// Reply is the result of executing one command: zero or more frames to
// write back (zero means "no reply" — a replica silently applying a
// primary's write), and whether Execute gated the command, replying
// with an error instead of executing it.
type Reply struct {
	// Frames holds the reply payload. Most commands produce exactly one
	// frame; PSYNC produces two (the FULLRESYNC line, then the snapshot
	// blob, the latter requiring SerializeSnapshot rather than Serialize).
	Frames          []resp.Frame
	SnapshotIndexes map[int]bool
	Suppressed      bool // true: execution happened, but nothing is written back
	Gated           bool // true: command was rejected outright, nothing executed
}

func single(f resp.Frame) Reply { return Reply{Frames: []resp.Frame{f}} }

// Execute runs cmd against the shared store and replication state,
// implementing the gating rule and the reply-visibility rule:
//
// Gating: a write command arriving on a connection that is not our
// primary's write stream, while we are a replica, is rejected outright.
//
// Reply visibility: the executing side writes a reply iff it is the
// primary, or the command is not a write — a replica applying a write
// sent by its primary replies to nobody.
func (rt *Runtime) Execute(cmd command.Command, peer *PeerContext) Reply {
	if rt.role == RoleReplica && cmd.IsWrite() && !rt.replica.IsFromPrimary(peer.Conn) {
		return Reply{Gated: true, Frames: []resp.Frame{
			resp.SimpleError("You can't write against a read only replica."),
		}}
	}

	reply := rt.dispatch(cmd, peer)

	visible := rt.IsPrimary() || !cmd.IsWrite()
	if !visible {
		return Reply{Suppressed: true}
	}
	return reply
}

func (rt *Runtime) dispatch(cmd command.Command, peer *PeerContext) Reply {
	switch cmd.Kind {
	case command.KindPing:
		return single(resp.SimpleString("PONG"))

	case command.KindEcho:
		return single(resp.BulkStringFrom(cmd.EchoArg))

	case command.KindSet:
		rt.Store.Put(cmd.Key, cmd.Value, ttlDuration(cmd.TTL))
		if rt.IsPrimary() {
			rt.primary.Fanout(cmd)
		}
		return single(resp.SimpleString("OK"))

	case command.KindGet:
		v, ok := rt.Store.Get(cmd.Key)
		if !ok {
			return single(resp.NullBulkString())
		}
		return single(v)

	case command.KindInfo:
		return rt.handleInfo(cmd.Section)

	case command.KindReplConf:
		return rt.handleReplConf(cmd, peer)

	case command.KindPsync:
		return rt.handlePsync(cmd, peer)

	default:
		return single(resp.SimpleError("ERR unknown command"))
	}
}

func (rt *Runtime) handleInfo(section string) Reply {
	if !strings.EqualFold(section, "replication") {
		return single(resp.SimpleError("Unknown arg for INFO: " + section))
	}

	var b strings.Builder
	if rt.IsPrimary() {
		fmt.Fprintf(&b, "role:master\n")
		fmt.Fprintf(&b, "master_replid:%s\n", rt.primary.ReplicationID())
		fmt.Fprintf(&b, "master_repl_offset:%d\n", rt.primary.Offset())
	} else {
		fmt.Fprintf(&b, "role:slave\n")
		fmt.Fprintf(&b, "master_replid:%s\n", rt.replica.ReplicationID())
		fmt.Fprintf(&b, "master_repl_offset:0\n")
		fmt.Fprintf(&b, "master_host:%s\n", rt.replica.PrimaryAddr())
	}
	return single(resp.BulkStringFrom(b.String()))
}

func (rt *Runtime) handleReplConf(cmd command.Command, peer *PeerContext) Reply {
	// Capabilities are negotiated unconditionally, even on a replica —
	// only primary-only replica registration is gated below.
	if cmd.ReplConf.Kind == command.ReplConfCapabilities {
		return single(resp.SimpleString("OK"))
	}

	if !rt.IsPrimary() {
		return single(resp.SimpleError("You can't sync with a replica"))
	}

	switch cmd.ReplConf.Kind {
	case command.ReplConfListeningPort:
		host, _ := splitHostPort(peer.Addr)
		announced := fmt.Sprintf("%s:%d", host, cmd.ReplConf.Port)
		rt.primary.RegisterReplica(announced, peer.Writer)
		return single(resp.SimpleString("OK"))
	default:
		return single(resp.SimpleError("ERR unrecognized REPLCONF option"))
	}
}

func (rt *Runtime) handlePsync(cmd command.Command, peer *PeerContext) Reply {
	if !rt.IsPrimary() {
		return single(resp.SimpleError("ERR PSYNC can only be served by a primary"))
	}
	if cmd.MasterID != "?" || cmd.Offset != -1 {
		return single(resp.SimpleError("Not capable of syncing with those options"))
	}

	fullResync := resp.SimpleString(fmt.Sprintf("FULLRESYNC %s 0", rt.primary.ReplicationID()))
	snapshot := resp.SnapshotBlob(replication.EmptySnapshot())

	log.Info("serving full resync", "peer", peer.Addr)
	return Reply{
		Frames:          []resp.Frame{fullResync, snapshot},
		SnapshotIndexes: map[int]bool{1: true},
	}
}
