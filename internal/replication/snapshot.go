package replication

import "encoding/base64"

// emptyRDBBase64 is a fixed, empty-database RDB payload. Persistence is
// out of scope for this server: the snapshot exchanged during full
// resync is this hard-coded constant rather than a real point-in-time
// dump, and a replica only checks that it starts with "REDIS".
const emptyRDBBase64 = "UkVESVMwMDEx+glyZWRpcy12ZXIFNy4yLjD6CnJlZGlzLWJpdHPAQPoFY3RpbWXCbQi8ZfoIdXNlZC1tZW3CsMQQAPoIYW9mLWJhc2XAAP/wbjv+wP9aog=="

// EmptySnapshot returns the decoded bytes of the fixed empty-database
// snapshot sent by a primary during full resync.
func EmptySnapshot() []byte {
	decoded, err := base64.StdEncoding.DecodeString(emptyRDBBase64)
	if err != nil {
		// The constant above is fixed at compile time; a decode
		// failure would mean the literal itself was corrupted.
		panic("replication: invalid embedded empty RDB constant: " + err.Error())
	}
	return decoded
}

// SnapshotMagic is the prefix every valid snapshot blob must start with.
const SnapshotMagic = "REDIS"
