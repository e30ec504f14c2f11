package session

import (
	"encoding/json"
	"time"
)

// Phase is the single persisted auth-transition flag. One value replaces
// the trio of boolean flags (userLoggedOut / logoutInProgress /
// recentLogin) older portal builds kept, so the flags can never disagree.
type Phase string

const (
	// PhaseNormal: no auth transition in flight. Stored as absence.
	PhaseNormal Phase = "normal"
	// PhaseLoggingOut: a logout sequence is executing right now.
	PhaseLoggingOut Phase = "loggingOut"
	// PhaseLoggedOut: a logout just completed; sticky until the login
	// page (or the server confirming unauthenticated) clears it.
	PhaseLoggedOut Phase = "loggedOut"
	// PhaseJustLoggedIn: an interactive login just succeeded.
	PhaseJustLoggedIn Phase = "justLoggedIn"
)

const phaseKey = "sessionPhase"

// DefaultPhaseTTL bounds the lifetime of any non-normal phase. Even if
// every normal clearing path is missed, a reader past the TTL sees
// PhaseNormal, so the login page can never get permanently stuck refusing
// redirects.
const DefaultPhaseTTL = 10 * time.Second

type phaseRecord struct {
	Phase Phase `json:"phase"`
	SetAt int64 `json:"setAt"` // unix millis
}

// Flags reads and writes the phase record in shared storage.
type Flags struct {
	store Storage

	// TTL for the safety net; tests shrink it.
	TTL time.Duration
	now func() time.Time
}

func NewFlags(store Storage) *Flags {
	return &Flags{
		store: store,
		TTL:   DefaultPhaseTTL,
		now:   time.Now,
	}
}

// Phase returns the current phase, expiring stale records on read.
func (f *Flags) Phase() Phase {
	raw, ok := f.store.Get(phaseKey)
	if !ok {
		return PhaseNormal
	}
	var rec phaseRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		f.store.Delete(phaseKey)
		return PhaseNormal
	}
	if f.now().Sub(time.UnixMilli(rec.SetAt)) > f.TTL {
		// Safety net: the clearing path was missed somewhere.
		f.store.Delete(phaseKey)
		return PhaseNormal
	}
	return rec.Phase
}

func (f *Flags) SetPhase(p Phase) {
	if p == PhaseNormal {
		f.store.Delete(phaseKey)
		return
	}
	raw, err := json.Marshal(phaseRecord{Phase: p, SetAt: f.now().UnixMilli()})
	if err != nil {
		return
	}
	f.store.Set(phaseKey, string(raw))
}

func (f *Flags) ClearPhase() {
	f.store.Delete(phaseKey)
}

// Legacy single-flag views, derived so they can never disagree.

func (f *Flags) UserLoggedOut() bool    { return f.Phase() == PhaseLoggedOut }
func (f *Flags) LogoutInProgress() bool { return f.Phase() == PhaseLoggingOut }
func (f *Flags) RecentLogin() bool      { return f.Phase() == PhaseJustLoggedIn }
