package bundle

import (
	"sync/atomic"
	"time"
)

// Manager holds the most recently generated bundle result. Readers get a
// consistent snapshot without locking; the scheduler and on-demand API
// both publish through Set.
type Manager struct {
	latest atomic.Pointer[Result]
}

func NewManager() *Manager { return &Manager{} }

// Set publishes a result. A copy is stored to guard against caller mutation.
func (m *Manager) Set(r Result) {
	cp := new(Result)
	*cp = r
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.latest.Store(cp)
}

// Latest returns the most recent result, or false when nothing has been
// generated yet.
func (m *Manager) Latest() (*Result, bool) {
	r := m.latest.Load()
	return r, r != nil
}

// LastSHA256 returns the hash of the most recent bundle, or "".
func (m *Manager) LastSHA256() string {
	r := m.latest.Load()
	if r == nil {
		return ""
	}
	return r.SHA256
}

// LastCreatedAt returns when the most recent bundle was generated, or zero.
func (m *Manager) LastCreatedAt() time.Time {
	r := m.latest.Load()
	if r == nil {
		return time.Time{}
	}
	return r.CreatedAt
}
