package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"studiolink/internal/authstate"
)

// fakePortal is the server side the coordinator talks to.
type fakePortal struct {
	mu          sync.Mutex
	user        *authstate.User // nil = every identity fetch 401s
	loginRole   string
	loginTeam   string
	logoutCalls int32
	failLogout  bool
}

func (p *fakePortal) serve(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/user", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		u := p.user
		p.mu.Unlock()
		if u == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(u)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": 1, "role": p.loginRole, "teamRole": p.loginTeam,
		})
	})
	mux.HandleFunc("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&p.logoutCalls, 1)
		if p.failLogout {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type recordingNav struct {
	mu     sync.Mutex
	routes []Route
}

func (n *recordingNav) Navigate(r Route) {
	n.mu.Lock()
	n.routes = append(n.routes, r)
	n.mu.Unlock()
}

func (n *recordingNav) all() []Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Route, len(n.routes))
	copy(out, n.routes)
	return out
}

func newCoordinator(t *testing.T, portal *fakePortal) (*Coordinator, *authstate.Cache, *Flags, *MemoryStorage, *recordingNav) {
	t.Helper()
	srv := portal.serve(t)
	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar}
	cache := authstate.New(srv.URL, client)
	store := NewMemoryStorage()
	flags := NewFlags(store)
	nav := &recordingNav{}
	coord := NewCoordinator(srv.URL, client, cache, flags, store, nav)
	return coord, cache, flags, store, nav
}

func TestLoginPageHonorsLogoutInProgress(t *testing.T) {
	portal := &fakePortal{user: &authstate.User{ID: 4, Role: "admin"}}
	coord, cache, flags, _, nav := newCoordinator(t, portal)

	// The identity cache still says authenticated (it's stale)...
	cache.Resolve(context.Background())
	// ...but a logout is in flight, and that wins.
	flags.SetPhase(PhaseLoggingOut)

	coord.HandleLoginPage(context.Background())

	if got := nav.all(); len(got) != 0 {
		t.Fatalf("redirected despite logout in progress: %v", got)
	}
	if got := flags.Phase(); got != PhaseNormal {
		t.Fatalf("flags not cleared, phase=%s", got)
	}
}

func TestLoginPageHonorsStickyLoggedOut(t *testing.T) {
	portal := &fakePortal{user: &authstate.User{ID: 4, Role: "admin"}}
	coord, cache, flags, _, nav := newCoordinator(t, portal)

	cache.Resolve(context.Background())
	flags.SetPhase(PhaseLoggedOut)

	coord.HandleLoginPage(context.Background())

	if got := nav.all(); len(got) != 0 {
		t.Fatalf("redirected despite sticky logged-out flag: %v", got)
	}
	if got := flags.Phase(); got != PhaseNormal {
		t.Fatalf("flags not cleared, phase=%s", got)
	}
}

func TestLoginPageRedirectsAuthenticatedByRole(t *testing.T) {
	portal := &fakePortal{user: &authstate.User{ID: 4, Role: "team", TeamRole: "SEO Expert"}}
	coord, _, _, _, nav := newCoordinator(t, portal)

	coord.HandleLoginPage(context.Background())

	if got := nav.all(); len(got) != 1 || got[0] != RouteSEO {
		t.Fatalf("expected one redirect to %s, got %v", RouteSEO, got)
	}
}

func TestRedirectGuardIsIdempotent(t *testing.T) {
	portal := &fakePortal{user: &authstate.User{ID: 4, Role: "admin"}}
	coord, cache, _, _, nav := newCoordinator(t, portal)

	coord.HandleLoginPage(context.Background())
	// Identity changes again; the page must not redirect a second time.
	cache.Refetch(context.Background())
	coord.HandleLoginPage(context.Background())
	coord.HandleLoginPage(context.Background())

	if got := nav.all(); len(got) != 1 {
		t.Fatalf("expected a single redirect attempt, got %v", got)
	}
}

func TestLoginPageIncompleteIdentityStays(t *testing.T) {
	// Authenticated but with no role: not enough to route anywhere.
	portal := &fakePortal{user: &authstate.User{ID: 4}}
	coord, _, _, _, nav := newCoordinator(t, portal)

	coord.HandleLoginPage(context.Background())

	if got := nav.all(); len(got) != 0 {
		t.Fatalf("redirected on an incomplete identity: %v", got)
	}
}

func TestConfirmedUnauthenticatedClearsFlags(t *testing.T) {
	portal := &fakePortal{user: nil}
	coord, _, flags, _, nav := newCoordinator(t, portal)

	flags.SetPhase(PhaseJustLoggedIn)
	coord.HandleLoginPage(context.Background())

	if got := nav.all(); len(got) != 0 {
		t.Fatalf("unauthenticated user was redirected: %v", got)
	}
	if got := flags.Phase(); got != PhaseNormal {
		t.Fatalf("cleanup did not clear flags, phase=%s", got)
	}
}

func TestInteractiveLoginRedirectsFromResponseRole(t *testing.T) {
	// The identity endpoint still 401s: the cache has not caught up. The
	// redirect must come from the login response alone.
	portal := &fakePortal{user: nil, loginRole: "customer"}
	coord, _, flags, _, nav := newCoordinator(t, portal)

	if err := coord.Login(context.Background(), "amy@studio.test", "pw"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if got := nav.all(); len(got) != 1 || got[0] != RouteClientPortal {
		t.Fatalf("expected redirect to %s, got %v", RouteClientPortal, got)
	}
	if !flags.RecentLogin() {
		t.Fatalf("recent-login marker not set, phase=%s", flags.Phase())
	}
}

func TestLoginResetsRedirectGuard(t *testing.T) {
	portal := &fakePortal{user: &authstate.User{ID: 4, Role: "admin"}, loginRole: "admin"}
	coord, _, flags, _, nav := newCoordinator(t, portal)

	coord.HandleLoginPage(context.Background()) // consumes the guard
	if err := coord.Login(context.Background(), "amy@studio.test", "pw"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	flags.ClearPhase()
	coord.HandleLoginPage(context.Background()) // guard was reset, fires again

	if got := nav.all(); len(got) != 3 {
		t.Fatalf("expected redirect guard reset by login, got %v", got)
	}
}

func TestLogoutRestoresStickyFlagAfterStorageWipe(t *testing.T) {
	portal := &fakePortal{user: &authstate.User{ID: 4, Role: "admin"}}
	coord, cache, flags, store, nav := newCoordinator(t, portal)

	cache.Resolve(context.Background())
	store.Set("theme", "dark") // unrelated state that must be wiped

	coord.Logout(context.Background())

	if !flags.UserLoggedOut() {
		t.Fatalf("sticky logged-out flag not restored, phase=%s", flags.Phase())
	}
	if flags.LogoutInProgress() {
		t.Fatal("logout still reads as in-progress after completion")
	}
	if _, ok := store.Get("theme"); ok {
		t.Fatal("storage was not wiped")
	}
	if cache.Get().IsAuthenticated {
		t.Fatal("identity cache not invalidated")
	}
	if got := nav.all(); len(got) != 1 || got[0] != RouteLogin {
		t.Fatalf("expected redirect to login, got %v", got)
	}
	if atomic.LoadInt32(&portal.logoutCalls) != 1 {
		t.Fatalf("expected one server logout call, got %d", portal.logoutCalls)
	}
}

func TestLogoutProceedsWhenServerFails(t *testing.T) {
	portal := &fakePortal{user: &authstate.User{ID: 4, Role: "admin"}, failLogout: true}
	coord, cache, flags, _, nav := newCoordinator(t, portal)

	cache.Resolve(context.Background())
	coord.Logout(context.Background())

	if !flags.UserLoggedOut() || cache.Get().IsAuthenticated {
		t.Fatal("server failure stranded the client logged in")
	}
	if got := nav.all(); len(got) != 1 || got[0] != RouteLogin {
		t.Fatalf("expected redirect to login, got %v", got)
	}
}

func TestConcurrentLogoutCollapses(t *testing.T) {
	portal := &fakePortal{user: &authstate.User{ID: 4, Role: "admin"}}
	coord, _, flags, _, nav := newCoordinator(t, portal)

	// Another code path already started the sequence.
	flags.SetPhase(PhaseLoggingOut)
	coord.Logout(context.Background())

	if got := nav.all(); len(got) != 0 {
		t.Fatalf("second logout ran anyway: %v", got)
	}
	if atomic.LoadInt32(&portal.logoutCalls) != 0 {
		t.Fatal("second logout hit the server")
	}
}

func TestUnauthorizedRedirectsUnlessMidLogout(t *testing.T) {
	portal := &fakePortal{user: &authstate.User{ID: 4, Role: "admin"}}
	coord, cache, flags, _, nav := newCoordinator(t, portal)
	cache.Resolve(context.Background())

	flags.SetPhase(PhaseLoggingOut)
	coord.HandleUnauthorized()
	if got := nav.all(); len(got) != 0 {
		t.Fatalf("401 during logout caused a redirect: %v", got)
	}

	flags.ClearPhase()
	coord.HandleUnauthorized()
	if got := nav.all(); len(got) != 1 || got[0] != RouteLogin {
		t.Fatalf("expected one redirect to login, got %v", got)
	}
	if cache.Get().IsAuthenticated {
		t.Fatal("identity cache not cleared on 401")
	}
}

type fakeRealtime struct{ disconnects int32 }

func (f *fakeRealtime) Disconnect() { atomic.AddInt32(&f.disconnects, 1) }

func TestLogoutClosesRealtimeChannel(t *testing.T) {
	portal := &fakePortal{user: &authstate.User{ID: 4, Role: "admin"}}
	coord, cache, _, _, _ := newCoordinator(t, portal)
	rt := &fakeRealtime{}
	coord.AttachRealtime(rt)

	cache.Resolve(context.Background())
	coord.Logout(context.Background())

	if atomic.LoadInt32(&rt.disconnects) != 1 {
		t.Fatalf("expected one realtime disconnect, got %d", rt.disconnects)
	}
}
