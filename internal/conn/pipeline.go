// Package conn runs one connection's read/execute/write pipeline: a
// reader goroutine parses frames as fast as the client sends them, an
// executor goroutine applies them to the shared runtime in arrival
// order and writes replies back, and the two are joined by a bounded
// channel so a slow client can't let an unbounded number of parsed
// commands pile up in memory. Generalized from the teacher's
// handler.HandlePipeline, which reads and executes command-by-command
// on a single goroutine; here the two stages are split so that a
// primary's fanout writes (on the same connection, once it becomes a
// replica link) and the connection's own replies share one SafeWriter
// without either stage blocking the other's forward progress.
package conn

import (
	"bufio"
	"errors"
	"io"
	"net"

	"redisync/internal/command"
	"redisync/internal/logging"
	"redisync/internal/replication"
	"redisync/internal/resp"
	"redisync/internal/runtime"
)

var log = logging.Named("conn")

// queueDepth bounds the number of parsed-but-not-yet-executed commands
// in flight on one connection.
const queueDepth = 32

// parsedCommand is one item handed from the reader goroutine to the
// executor goroutine. codecErr is set for a frame that failed to parse
// as RESP at all — a hard wire-format error — while parseErr is set
// for a frame that parsed fine but does not name a known command (or
// names one with bad arguments). Both are replied to inline; neither
// closes the connection.
type parsedCommand struct {
	cmd      command.Command
	codecErr error
	parseErr error
}

// Pipeline runs a single client (or replica) connection end to end.
type Pipeline struct {
	conn   net.Conn
	rt     *runtime.Runtime
	writer *replication.SafeWriter
}

// New builds a Pipeline for conn.
func New(c net.Conn, rt *runtime.Runtime) *Pipeline {
	return &Pipeline{
		conn:   c,
		rt:     rt,
		writer: replication.NewSafeWriter(c),
	}
}

// Writer exposes the connection's SafeWriter so a primary can also
// fan out replicated writes down this same socket once it registers
// as a replica link.
func (p *Pipeline) Writer() *replication.SafeWriter { return p.writer }

// Run blocks until the connection is closed or encounters a fatal
// read/write error.
func (p *Pipeline) Run() {
	p.RunWithReader(bufio.NewReader(p.conn))
}

// RunWithReader is Run, but reusing a *bufio.Reader the caller already
// has positioned on the connection — the replica handshake buffers the
// bytes that follow the snapshot blob, and those must not be dropped by
// wrapping the raw connection in a fresh reader.
func (p *Pipeline) RunWithReader(reader *bufio.Reader) {
	queue := make(chan parsedCommand, queueDepth)

	go p.readLoop(reader, queue)
	p.executeLoop(queue)
}

func (p *Pipeline) readLoop(reader *bufio.Reader, queue chan<- parsedCommand) {
	defer close(queue)
	for {
		frame, err := resp.Parse(reader)
		if err != nil {
			if err == io.EOF {
				return
			}
			// A malformed frame doesn't end the connection: enqueue an
			// error token and keep reading the next one.
			queue <- parsedCommand{codecErr: err}
			continue
		}
		cmd, err := command.Parse(frame)
		queue <- parsedCommand{cmd: cmd, parseErr: err}
	}
}

func (p *Pipeline) executeLoop(queue <-chan parsedCommand) {
	peer := &runtime.PeerContext{
		Addr:   p.conn.RemoteAddr().String(),
		Conn:   p.conn,
		Writer: p.writer,
	}

	for item := range queue {
		if item.codecErr != nil {
			if err := p.writer.WriteFrame(resp.SimpleError(item.codecErr.Error())); err != nil {
				log.Warn("write error, closing connection", "peer", peer.Addr, "error", err.Error())
				return
			}
			continue
		}
		if item.parseErr != nil {
			if err := p.writer.WriteFrame(resp.SimpleError(unrecognizedMessage(item.parseErr))); err != nil {
				log.Warn("write error, closing connection", "peer", peer.Addr, "error", err.Error())
				return
			}
			continue
		}

		reply := p.rt.Execute(item.cmd, peer)
		if reply.Suppressed {
			continue
		}

		var err error
		if len(reply.SnapshotIndexes) > 0 {
			err = p.writer.WriteCompound(reply.Frames, reply.SnapshotIndexes)
		} else {
			for _, f := range reply.Frames {
				if err = p.writer.WriteFrame(f); err != nil {
					break
				}
			}
		}
		if err != nil {
			log.Warn("write error, closing connection", "peer", peer.Addr, "error", err.Error())
			return
		}
	}
}

// unrecognizedMessage renders a command.Parse failure as the pinned
// "Not a valid command" reply, naming the offending text when known.
func unrecognizedMessage(err error) string {
	var ue *command.UnrecognizedError
	if errors.As(err, &ue) {
		return "Not a valid command: " + ue.Name
	}
	return "Not a valid command"
}
