package span

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
)

// IDFromUint64 renders a 64-bit id as 16 lower-hex characters.
func IDFromUint64(v uint64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return hex.EncodeToString(b[:])
}

// TraceID renders a 64 or 128-bit trace id. high is ignored when zero.
func TraceID(high, low uint64) string {
	if high == 0 {
		return IDFromUint64(low)
	}
	return IDFromUint64(high) + IDFromUint64(low)
}

// IDFromBytes renders an 8 or 16 byte id, as carried by proto3 spans.
func IDFromBytes(b []byte) (string, error) {
	switch len(b) {
	case 0:
		return "", nil
	case 8, 16:
		return hex.EncodeToString(b), nil
	default:
		return "", fmt.Errorf("span id must be 8 or 16 bytes, got %d", len(b))
	}
}

// IPv4FromInt32 renders a thrift-style packed IPv4 address.
func IPv4FromInt32(v int32) string {
	if v == 0 {
		return ""
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return net.IP(b[:]).String()
}

// IPFromBytes renders a proto3 ipv4/ipv6 field.
func IPFromBytes(b []byte) string {
	if len(b) != net.IPv4len && len(b) != net.IPv6len {
		return ""
	}
	return net.IP(b).String()
}
