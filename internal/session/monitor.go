package session

import (
	"context"
	"sync"
	"time"

	"studiolink/internal/authstate"
)

// DefaultInactivityWindow forces a logout after this much user idleness.
const DefaultInactivityWindow = 30 * time.Minute

// Monitor watches user activity while authenticated and runs the forced
// logout once the inactivity window elapses. The embedding UI calls
// Activity() for every qualifying event (pointer, key, scroll, touch,
// click); the monitor owns the countdown.
type Monitor struct {
	window time.Duration
	cache  *authstate.Cache
	coord  *Coordinator

	mu           sync.Mutex
	timer        *time.Timer
	lastActivity time.Time
	running      bool
	now          func() time.Time
}

func NewMonitor(window time.Duration, cache *authstate.Cache, coord *Coordinator) *Monitor {
	if window <= 0 {
		window = DefaultInactivityWindow
	}
	return &Monitor{
		window: window,
		cache:  cache,
		coord:  coord,
		now:    time.Now,
	}
}

// Start arms the countdown. No-op unless someone is authenticated.
func (m *Monitor) Start() {
	if !m.cache.Get().IsAuthenticated {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.lastActivity = m.now()
	m.timer = time.AfterFunc(m.window, m.expire)
}

// Stop disarms the countdown; the pending timer becomes a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	if m.timer != nil {
		m.timer.Stop()
	}
}

// Activity resets the countdown to the full window.
func (m *Monitor) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.lastActivity = m.now()
	m.timer.Stop()
	m.timer = time.AfterFunc(m.window, m.expire)
}

// expire re-checks wall-clock idleness before declaring a timeout. A timer
// can fire early relative to real elapsed activity after suspend/resume;
// only a genuinely full window triggers the forced logout.
func (m *Monitor) expire() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	elapsed := m.now().Sub(m.lastActivity)
	if elapsed < m.window {
		m.timer = time.AfterFunc(m.window-elapsed, m.expire)
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.coord.Logout(context.Background())
}
