// Package authstate holds the process-wide answer to "who is the current
// user". Every consumer reads the same snapshot; the identity endpoint is
// hit at most once per process lifetime unless somebody forces a refetch.
package authstate

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// User is the identity record returned by GET /api/auth/user.
type User struct {
	ID       int    `json:"id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	TeamRole string `json:"teamRole"`
}

// State is the read-only identity snapshot consumers receive.
type State struct {
	User            *User
	IsLoading       bool
	IsAuthenticated bool
}

// Cache is the single shared identity store. Not a module-level variable:
// callers inject one instance everywhere, which keeps tests isolated.
type Cache struct {
	baseURL string
	client  *http.Client
	group   singleflight.Group

	mu      sync.Mutex
	checked bool
	state   State
	subs    map[int]chan State
	nextSub int
}

func New(baseURL string, client *http.Client) *Cache {
	if client == nil {
		client = http.DefaultClient
	}
	return &Cache{
		baseURL: baseURL,
		client:  client,
		state:   State{IsLoading: true},
		subs:    make(map[int]chan State),
	}
}

// Get returns the current snapshot without touching the network.
func (c *Cache) Get() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resolve returns the cached identity, fetching it on the first call.
// Any number of concurrent first callers share a single network fetch and
// all observe the same resolved state.
func (c *Cache) Resolve(ctx context.Context) State {
	c.mu.Lock()
	if c.checked {
		state := c.state
		c.mu.Unlock()
		return state
	}
	c.mu.Unlock()

	v, _, _ := c.group.Do("identity", func() (interface{}, error) {
		// Re-check under the flight: a Refetch may have landed first.
		c.mu.Lock()
		if c.checked {
			state := c.state
			c.mu.Unlock()
			return state, nil
		}
		c.mu.Unlock()
		state := c.fetch(ctx)
		c.publish(state)
		return state, nil
	})
	return v.(State)
}

// Refetch forces a new identity fetch and republishes to all subscribers.
func (c *Cache) Refetch(ctx context.Context) State {
	state := c.fetch(ctx)
	c.publish(state)
	return state
}

// Invalidate resets to logged-out without a network call. Used on logout
// and on a 401 from any authenticated endpoint.
func (c *Cache) Invalidate() {
	c.publish(State{User: nil, IsLoading: false, IsAuthenticated: false})
}

// Subscribe returns a channel that receives every published state change
// and a cancel func. Slow receivers miss intermediate states, never block
// the publisher.
func (c *Cache) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan State, 8)
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Identity satisfies the realtime layer's identity provider: the auth
// frame is stamped from whatever is cached right now.
func (c *Cache) Identity() (userID, role string, ok bool) {
	state := c.Get()
	if !state.IsAuthenticated || state.User == nil {
		return "", "", false
	}
	return strconv.Itoa(state.User.ID), state.User.Role, true
}

// fetch hits the identity endpoint. Every failure mode collapses to
// "not authenticated": the cache fails open to logged-out, never errors.
func (c *Cache) fetch(ctx context.Context) State {
	loggedOut := State{IsLoading: false, IsAuthenticated: false}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/auth/user", nil)
	if err != nil {
		return loggedOut
	}
	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("identity fetch failed: %v", err)
		return loggedOut
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return loggedOut
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		log.Printf("identity decode failed: %v", err)
		return loggedOut
	}

	return State{User: &u, IsLoading: false, IsAuthenticated: true}
}

func (c *Cache) publish(state State) {
	c.mu.Lock()
	c.checked = true
	c.state = state
	for _, ch := range c.subs {
		select {
		case ch <- state:
		default:
		}
	}
	c.mu.Unlock()
}
