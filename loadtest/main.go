package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"sync"
	"time"

	"studiolink/internal/authstate"
	"studiolink/internal/realtime"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	UserCount = 200 // Pairs; start small, the database chokes before the hub does.
	MsgCount  = 20  // Messages per user
)

func main() {
	log.Printf("🔥 STARTING STRESS TEST: %d users, %d messages each...", UserCount*2, MsgCount)
	var wg sync.WaitGroup

	for i := 0; i < UserCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("✅ LOAD TEST COMPLETE")
}

// runPair drives two SDK clients chatting on one shared project.
func runPair(pairID int) {
	a := newPortalClient(fmt.Sprintf("u_%d_a@load.test", pairID))
	b := newPortalClient(fmt.Sprintf("u_%d_b@load.test", pairID))
	if a == nil || b == nil {
		return
	}

	projectID := a.createProject(fmt.Sprintf("loadtest-%d", pairID))
	if projectID == "" {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go a.spamChat(&wsWg, projectID)
	go b.spamChat(&wsWg, projectID)
	wsWg.Wait()
}

type portalClient struct {
	email string
	http  *http.Client
	cache *authstate.Cache
	mgr   *realtime.Manager
}

// newPortalClient registers, logs in and resolves identity through the
// real SDK stack.
func newPortalClient(email string) *portalClient {
	jar, _ := cookiejar.New(nil)
	httpClient := &http.Client{Jar: jar, Timeout: 15 * time.Second}

	postJSON(httpClient, "/register", map[string]string{"email": email, "password": "password123"})
	resp, err := postJSON(httpClient, "/login", map[string]string{"email": email, "password": "password123"})
	if err != nil || resp.StatusCode != http.StatusOK {
		log.Printf("❌ Login failed [%s]: %v", email, err)
		return nil
	}
	resp.Body.Close()

	cache := authstate.New(BaseURL, httpClient)
	state := cache.Resolve(context.Background())
	if !state.IsAuthenticated {
		log.Printf("❌ Identity fetch failed [%s]", email)
		return nil
	}

	mgr := realtime.NewManager(WSURL, cache, jar)
	return &portalClient{email: email, http: httpClient, cache: cache, mgr: mgr}
}

func (p *portalClient) createProject(name string) string {
	resp, err := postJSON(p.http, "/api/projects", map[string]string{"name": name})
	if err != nil || resp.StatusCode != http.StatusCreated {
		log.Printf("❌ Create project failed [%s]: %v", p.email, err)
		return ""
	}
	defer resp.Body.Close()

	var data struct {
		ID int `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&data)
	return strconv.Itoa(data.ID)
}

func (p *portalClient) spamChat(wg *sync.WaitGroup, projectID string) {
	defer wg.Done()
	defer p.mgr.Disconnect()

	p.mgr.Connect()
	if !p.mgr.IsConnected() {
		log.Printf("❌ WS connect failed [%s]: %s", p.email, p.mgr.LastError())
		return
	}

	conv := realtime.NewConversation(p.mgr, BaseURL, p.http, projectID)
	p.mgr.SetHandler(conv.HandleFrame)
	defer conv.Close()

	for i := 0; i < MsgCount; i++ {
		conv.Keystroke()
		msg := fmt.Sprintf("LoadTest msg %d from %s", i, p.email)
		if err := conv.SendMessage(context.Background(), msg); err != nil {
			log.Printf("❌ Send failed [%s]: %v", p.email, err)
			break
		}
		// Small sleep to prevent an instant localhost bottleneck.
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("✅ %s finished sending %d msgs (received %d so far)", p.email, MsgCount, len(conv.Messages()))
}

func postJSON(client *http.Client, endpoint string, data interface{}) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return client.Post(BaseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
