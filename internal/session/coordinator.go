package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"sync"

	"studiolink/internal/authstate"
)

// Realtime is what the logout sequence needs from the channel layer.
type Realtime interface {
	Disconnect()
}

// Coordinator orchestrates login and logout transitions between the
// identity cache, the realtime channel, the shared flags and the cookie
// jar, in the one order that doesn't race.
type Coordinator struct {
	baseURL  string
	client   *http.Client // owns the cookie jar
	cache    *authstate.Cache
	flags    *Flags
	store    Storage
	nav      Navigator
	realtime Realtime

	mu                sync.Mutex
	redirectAttempted bool
}

func NewCoordinator(baseURL string, client *http.Client, cache *authstate.Cache, flags *Flags, store Storage, nav Navigator) *Coordinator {
	if client == nil {
		client = http.DefaultClient
	}
	return &Coordinator{
		baseURL: baseURL,
		client:  client,
		cache:   cache,
		flags:   flags,
		store:   store,
		nav:     nav,
	}
}

// AttachRealtime wires in the channel layer so logout can close sockets.
func (c *Coordinator) AttachRealtime(rt Realtime) {
	c.mu.Lock()
	c.realtime = rt
	c.mu.Unlock()
}

// HandleLoginPage decides, on arrival at the login page, whether to send
// an already-authenticated user onward. Precedence matters:
//
//  1. at most one redirect attempt per page lifetime;
//  2. a logout that just happened (or is still running) wins over any
//     authenticated identity, because the identity may be stale;
//  3. a fully populated authenticated identity redirects by role;
//  4. a confirmed-unauthenticated identity clears the flags (the normal,
//     non-race path);
//  5. the phase TTL force-clears missed flags so the page can never stay
//     stuck refusing redirects.
func (c *Coordinator) HandleLoginPage(ctx context.Context) {
	c.mu.Lock()
	attempted := c.redirectAttempted
	c.mu.Unlock()
	if attempted {
		return
	}

	switch c.flags.Phase() {
	case PhaseLoggedOut, PhaseLoggingOut:
		c.flags.ClearPhase()
		return
	}

	state := c.cache.Resolve(ctx)
	if state.IsAuthenticated && !state.IsLoading && state.User != nil &&
		state.User.ID != 0 && state.User.Role != "" {
		c.mu.Lock()
		c.redirectAttempted = true
		c.mu.Unlock()
		c.nav.Navigate(RouteForRole(state.User.Role, state.User.TeamRole))
		return
	}

	if !state.IsLoading && state.User == nil {
		c.flags.ClearPhase()
	}
}

// HandleUnauthorized is the shared policy for a 401 from any REST call:
// the session is gone server-side, so clear local state and return to the
// login page. Skipped while a logout is running or just ran, otherwise the
// two paths race each other into a redirect storm.
func (c *Coordinator) HandleUnauthorized() {
	switch c.flags.Phase() {
	case PhaseLoggingOut, PhaseLoggedOut:
		return
	}
	c.cache.Invalidate()
	c.nav.Navigate(RouteLogin)
}

type loginResponse struct {
	ID       int    `json:"id"`
	Role     string `json:"role"`
	TeamRole string `json:"teamRole"`
}

// Login performs the interactive login and redirects using the role from
// the login response directly. Waiting for the identity cache to propagate
// would cost a second round trip and can lose the redirect to a re-render
// race; the response role can't.
func (c *Coordinator) Login(ctx context.Context, email, password string) error {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: %s", resp.Status)
	}

	var res loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return err
	}

	c.flags.ClearPhase()
	c.mu.Lock()
	c.redirectAttempted = false
	c.mu.Unlock()
	c.flags.SetPhase(PhaseJustLoggedIn)

	// Refresh the cache in the background; the redirect doesn't wait.
	go c.cache.Refetch(context.Background())

	c.nav.Navigate(RouteForRole(res.Role, res.TeamRole))
	return nil
}

// Logout runs the forced teardown shared by the explicit logout button and
// the inactivity monitor. The LoggingOut guard collapses concurrent
// triggers into one execution.
//
// Step order is load-bearing: the sticky logged-out marker is restored
// AFTER the storage wipe. Restore it first and a concurrent reader of the
// flags sees a false negative in the window between the two.
func (c *Coordinator) Logout(ctx context.Context) {
	if c.flags.LogoutInProgress() {
		return
	}
	c.flags.SetPhase(PhaseLoggingOut)

	c.mu.Lock()
	rt := c.realtime
	c.mu.Unlock()
	if rt != nil {
		rt.Disconnect()
	}

	// Best-effort server logout; a failure here must never strand the
	// client looking logged in.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/logout", nil)
	if err == nil {
		if resp, doErr := c.client.Do(req); doErr != nil {
			log.Printf("logout request failed: %v", doErr)
		} else {
			resp.Body.Close()
		}
	}

	// Wipe shared storage, then restore the sticky marker. Setting
	// PhaseLoggedOut also reads as logout-finished to any concurrent
	// reader, distinct from still-running.
	c.store.Clear()
	c.flags.SetPhase(PhaseLoggedOut)

	// Drop every cookie, then the cached identity.
	if jar, jarErr := cookiejar.New(nil); jarErr == nil {
		c.client.Jar = jar
	}
	c.cache.Invalidate()

	c.nav.Navigate(RouteLogin)
}
