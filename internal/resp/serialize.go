package resp

import (
	"bytes"
	"strconv"
)

// Serialize is total: every frame maps to a unique byte sequence
// matching the RESP grammar. NullBulkString serializes to "$-1\r\n".
// Lists serialize the count header followed by each child's bytes, in
// order. Callers send a SnapshotBlob with SerializeSnapshot; Serialize
// also accepts one, so that it stays total, and writes the same
// no-trailing-CRLF encoding.
func Serialize(f Frame) []byte {
	var buf bytes.Buffer
	writeFrame(&buf, f)
	return buf.Bytes()
}

func writeFrame(buf *bytes.Buffer, f Frame) {
	switch f.Kind {
	case KindSimpleString:
		buf.WriteByte('+')
		buf.WriteString(f.Str)
		buf.WriteString("\r\n")
	case KindSimpleError:
		buf.WriteByte('-')
		buf.WriteString(f.Str)
		buf.WriteString("\r\n")
	case KindBulkString:
		buf.WriteByte('$')
		buf.WriteString(strconv.Itoa(len(f.Bulk)))
		buf.WriteString("\r\n")
		buf.Write(f.Bulk)
		buf.WriteString("\r\n")
	case KindNullBulkString:
		buf.WriteString("$-1\r\n")
	case KindList:
		buf.WriteByte('*')
		buf.WriteString(strconv.Itoa(len(f.Children)))
		buf.WriteString("\r\n")
		for _, child := range f.Children {
			writeFrame(buf, child)
		}
	case KindSnapshotBlob:
		// Only reached when a SnapshotBlob is passed to Serialize (no
		// caller does so today); kept here so Serialize stays total.
		buf.WriteByte('$')
		buf.WriteString(strconv.Itoa(len(f.Bulk)))
		buf.WriteString("\r\n")
		buf.Write(f.Bulk)
	}
}

// SerializeSnapshot encodes a SnapshotBlob frame using the replication-only
// encoding: "$" length CRLF followed by the raw bytes, with no trailing
// CRLF. It must not be used for any other frame kind.
func SerializeSnapshot(f Frame) []byte {
	var buf bytes.Buffer
	buf.WriteByte('$')
	buf.WriteString(strconv.Itoa(len(f.Bulk)))
	buf.WriteString("\r\n")
	buf.Write(f.Bulk)
	return buf.Bytes()
}
