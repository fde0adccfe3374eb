package protocol

import "bytes"

// processNameSize is the fixed width of the name field in GET_PROCESS.
const processNameSize = 32

// ProcessInfo is one record of a process enumeration reported by the peer.
type ProcessInfo struct {
	PID          uint32 `json:"pid"`
	Name         string `json:"name"`
	MemoryUsage  uint64 `json:"memory_usage"`
	AffinityMask uint32 `json:"affinity_mask"`
}

// ProcessRecord is a decoded GET_PROCESS message: one ProcessInfo plus its
// position in the enumeration.
type ProcessRecord struct {
	Index int
	Total int
	Info  ProcessInfo
}

// Last reports whether this record closes the enumeration.
func (r ProcessRecord) Last() bool {
	return r.Index == r.Total-1
}

// trimName cuts a fixed-width name buffer at the first NUL.
func trimName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
