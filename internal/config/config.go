// Package config holds the server's startup configuration, generalized
// from the teacher's server.Config down to the fields this spec's
// single-node, in-memory store actually needs: a listening port and an
// optional primary to replicate from.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultPort is used when --port is not given.
const DefaultPort uint16 = 6379

// ServerConfig is the fully-parsed startup configuration for one server.
type ServerConfig struct {
	Host string
	Port uint16

	// ReplicaOf is the "host port" of this server's primary, or nil if
	// this server starts as a primary itself.
	ReplicaOf *PrimaryAddr
}

// PrimaryAddr is a parsed --replicaof target.
type PrimaryAddr struct {
	Host string
	Port uint16
}

// String renders "host:port", the dial address net.Dial expects.
func (a PrimaryAddr) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Default returns a ServerConfig for a primary listening on DefaultPort.
func Default() ServerConfig {
	return ServerConfig{Host: "0.0.0.0", Port: DefaultPort}
}

// ParsePort validates a --port flag value.
func ParsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid port %q", s)
	}
	return uint16(n), nil
}

// ParseReplicaOf parses a --replicaof value of the form "host port",
// e.g. "127.0.0.1 6379" — a single space-separated argument, matching
// how the original redis-server flag is passed.
func ParseReplicaOf(s string) (PrimaryAddr, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return PrimaryAddr{}, errors.Errorf("--replicaof expects \"<host> <port>\", got %q", s)
	}
	port, err := ParsePort(fields[1])
	if err != nil {
		return PrimaryAddr{}, errors.Wrap(err, "--replicaof port")
	}
	return PrimaryAddr{Host: fields[0], Port: port}, nil
}
