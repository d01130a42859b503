package replication

import (
	"bufio"
	"net"
	"sync"

	"github.com/pkg/errors"

	"redisync/internal/resp"
)

// SafeWriter serializes concurrent writers onto a single connection's
// write-half. Both a connection's own executor (replies) and the
// primary's fanout path (writes into a just-registered ReplicaLink) may
// need to write to the same socket; they share one SafeWriter per
// connection, and each write holds the lock for one frame only, or for
// the frames of one compound reply (WriteCompound).
type SafeWriter struct {
	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer
}

// NewSafeWriter wraps conn's write-half.
func NewSafeWriter(conn net.Conn) *SafeWriter {
	return &SafeWriter{conn: conn, w: bufio.NewWriter(conn)}
}

// WriteFrame serializes and writes a single ordinary frame, then flushes.
func (s *SafeWriter) WriteFrame(f resp.Frame) error {
	return s.writeAndFlush(resp.Serialize(f))
}

// WriteCompound writes several frames back to back before flushing once
// — used for the PSYNC compound reply (FULLRESYNC line + snapshot blob).
// Frames whose index is set in snapshotIndexes are serialized with
// resp.SerializeSnapshot instead of resp.Serialize.
func (s *SafeWriter) WriteCompound(frames []resp.Frame, snapshotIndexes map[int]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, f := range frames {
		var b []byte
		if snapshotIndexes[i] {
			b = resp.SerializeSnapshot(f)
		} else {
			b = resp.Serialize(f)
		}
		if _, err := s.w.Write(b); err != nil {
			return errors.Wrap(err, "replication: write compound reply")
		}
	}
	return errors.Wrap(s.w.Flush(), "replication: flush compound reply")
}

func (s *SafeWriter) writeAndFlush(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(b); err != nil {
		return errors.Wrap(err, "replication: write frame")
	}
	return errors.Wrap(s.w.Flush(), "replication: flush frame")
}

// Close closes the underlying connection.
func (s *SafeWriter) Close() error {
	return s.conn.Close()
}
