// Package server wires together the keyspace, replication state, and
// per-connection pipelines into a running TCP listener, grounded on
// the teacher's RedisServer accept-loop/shutdown shape and narrowed to
// this spec's primary/replica command set.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"redisync/internal/config"
	"redisync/internal/conn"
	"redisync/internal/logging"
	"redisync/internal/runtime"
	"redisync/internal/store"
)

var log = logging.Named("server")

// Server owns the listener and the shared runtime state every
// connection's pipeline executes against.
type Server struct {
	cfg      config.ServerConfig
	rt       *runtime.Runtime
	listener net.Listener

	wg         sync.WaitGroup
	mu         sync.Mutex
	shutdown   bool
	shutdownCh chan struct{}
}

// New builds a Server from cfg. When cfg.ReplicaOf is set the server
// takes the replica role, and Start runs the handshake/sync loop
// against that primary; otherwise it starts as a primary.
func New(cfg config.ServerConfig) *Server {
	s := store.New()

	var rt *runtime.Runtime
	if cfg.ReplicaOf != nil {
		rt = runtime.NewReplicaRuntime(s, cfg.Host, cfg.Port, cfg.ReplicaOf.String())
	} else {
		rt = runtime.NewPrimaryRuntime(s, cfg.Host, cfg.Port)
	}

	return &Server{
		cfg:        cfg,
		rt:         rt,
		shutdownCh: make(chan struct{}),
	}
}

// Start listens on cfg.Host:cfg.Port, launches the replica sync loop
// if configured as a replica, and accepts connections until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Info("listening", "addr", addr, "role", roleName(s.rt))

	if s.rt.Role() == runtime.RoleReplica {
		go s.rt.Replica().Run(ctx, s.cfg.Port, s.runReplicaStream)
	}

	go s.acceptLoop(ctx)

	<-ctx.Done()
	return nil
}

func roleName(rt *runtime.Runtime) string {
	if rt.IsPrimary() {
		return "primary"
	}
	return "replica"
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		c, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-s.shutdownCh:
				return
			default:
			}
			log.Warn("accept error", "error", err.Error())
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer c.Close()
			conn.New(c, s.rt).Run()
		}()
	}
}

// runReplicaStream is handed to replication.Replica.Run as the
// onReady callback: it runs the from-primary connection through the
// ordinary pipeline. The runtime's gating rule recognizes this
// connection by identity — Replica.IsFromPrimary compares it against
// the conn registered by Run — so primary-applied writes pass through
// while a client's own write attempts on every other connection are
// still rejected. reader is the handshake's own buffered reader,
// already positioned right after the snapshot blob, so any command the
// primary pipelined immediately after is not lost.
func (s *Server) runReplicaStream(ctx context.Context, c net.Conn, reader *bufio.Reader) {
	p := conn.New(c, s.rt)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.RunWithReader(reader)
	}()
	select {
	case <-ctx.Done():
		c.Close()
		<-done
	case <-done:
	}
}

// Shutdown stops accepting new connections and closes the listener.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	close(s.shutdownCh)
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	log.Info("shutdown complete")
}
