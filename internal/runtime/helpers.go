package runtime

import (
	"net"
	"time"
)

// ttlDuration converts a SET command's millisecond PX argument into the
// *time.Duration the store expects.
func ttlDuration(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

// splitHostPort separates "host:port" into its parts, tolerating an
// address with no port by returning it unchanged as the host.
func splitHostPort(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, ""
	}
	return host, port
}
