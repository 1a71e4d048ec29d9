package server

import (
	"sync"
	"time"

	"github.com/muurk/loxone/internal/graph"
	"github.com/muurk/loxone/internal/offline"
)

// Health tracks connection status. It is a session listener.
type Health struct {
	mu      sync.RWMutex
	online  bool
	since   time.Time
	reason  offline.Reason
	detail  string
	configs int
}

// NewHealth returns a tracker in the offline state.
func NewHealth() *Health {
	return &Health{since: time.Now()}
}

// HealthStatus is the /health reply.
type HealthStatus struct {
	Status         string    `json:"status"`
	Online         bool      `json:"online"`
	Since          time.Time `json:"since"`
	Reason         string    `json:"reason,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	Configurations int       `json:"configurations"`
}

// Status returns a snapshot.
func (h *Health) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := HealthStatus{
		Status:         "ok",
		Online:         h.online,
		Since:          h.since,
		Configurations: h.configs,
	}
	if !h.online {
		st.Status = "offline"
		if h.reason != offline.None {
			st.Reason = h.reason.String()
			st.Detail = h.detail
		}
	}
	return st
}

func (h *Health) OnConfiguration(*graph.Graph) {
	h.mu.Lock()
	h.configs++
	h.mu.Unlock()
}

func (h *Health) OnServerOnline() {
	h.mu.Lock()
	h.online, h.since, h.reason, h.detail = true, time.Now(), offline.None, ""
	h.mu.Unlock()
}

func (h *Health) OnServerOffline(reason offline.Reason, detail string) {
	h.mu.Lock()
	h.online, h.since, h.reason, h.detail = false, time.Now(), reason, detail
	h.mu.Unlock()
}

func (h *Health) OnStateUpdate(*graph.Control, string) {}
