package connection

import (
	"sort"
	"sync"
	"time"
)

// Status is the live connection state of one server.
type Status string

const (
	StatusUnknown      Status = "unknown"
	StatusTesting      Status = "testing"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// LiveStatus is what this process currently believes about a server.
type LiveStatus struct {
	ServerID    string        `json:"serverId"`
	Status      Status        `json:"status"`
	LastTested  time.Time     `json:"lastTested,omitempty"`
	LastSuccess *time.Time    `json:"lastSuccess,omitempty"`
	Error       string        `json:"error,omitempty"`
	Latency     time.Duration `json:"latency,omitempty"`
	// PingSupported is nil until the server has been contacted.
	PingSupported *bool `json:"pingSupported,omitempty"`
}

// LivenessTable holds live connection status per server id.
//
// The table is process-local and starts empty. After a restart every server
// reads as unknown until it is contacted again. It must never be copied into the
// shared cache or the server store: another instance's belief about
// reachability is not evidence for this one.
type LivenessTable struct {
	mu      sync.RWMutex
	entries map[string]LiveStatus
	now     func() time.Time
}

// NewLivenessTable creates an empty table. A nil clock selects time.Now.
func NewLivenessTable(now func() time.Time) *LivenessTable {
	if now == nil {
		now = time.Now
	}
	return &LivenessTable{entries: make(map[string]LiveStatus), now: now}
}

// Get returns the status for serverID, StatusUnknown if never contacted.
func (t *LivenessTable) Get(serverID string) LiveStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.entries[serverID]; ok {
		return st
	}
	return LiveStatus{ServerID: serverID, Status: StatusUnknown}
}

// MarkTesting records that a live check has started.
func (t *LivenessTable) MarkTesting(serverID string) {
	t.update(serverID, func(st *LiveStatus) {
		st.Status = StatusTesting
		st.LastTested = t.now()
	})
}

// MarkConnected records a successful live fetch or cache hit. pingSupported and
// latency are only overwritten when known.
func (t *LivenessTable) MarkConnected(serverID string, lastSuccess time.Time, pingSupported *bool, latency time.Duration) {
	t.update(serverID, func(st *LiveStatus) {
		st.Status = StatusConnected
		st.LastTested = t.now()
		st.LastSuccess = &lastSuccess
		st.Error = ""
		if pingSupported != nil {
			st.PingSupported = pingSupported
		}
		if latency > 0 {
			st.Latency = latency
		}
	})
}

// MarkDisconnected records a failed live fetch.
func (t *LivenessTable) MarkDisconnected(serverID, errMsg string) {
	t.update(serverID, func(st *LiveStatus) {
		st.Status = StatusDisconnected
		st.LastTested = t.now()
		st.Error = errMsg
	})
}

// PingSupported reports whether serverID is known to answer ping.
func (t *LivenessTable) PingSupported(serverID string) (supported, known bool) {
	st := t.Get(serverID)
	if st.PingSupported == nil {
		return false, false
	}
	return *st.PingSupported, true
}

// Forget drops the entry for serverID.
func (t *LivenessTable) Forget(serverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, serverID)
}

// Snapshot returns all entries sorted by server id.
func (t *LivenessTable) Snapshot() []LiveStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]LiveStatus, 0, len(t.entries))
	for _, st := range t.entries {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

func (t *LivenessTable) update(serverID string, fn func(*LiveStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.entries[serverID]
	if !ok {
		st = LiveStatus{ServerID: serverID, Status: StatusUnknown}
	}
	fn(&st)
	t.entries[serverID] = st
}
