package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"studiolink/internal/protocol"
)

// DefaultTypingDebounce is how long after the last keystroke the implicit
// typing-stop signal fires.
const DefaultTypingDebounce = time.Second

// ChatMessage is the client-side view of one conversation message,
// merged from REST history and realtime pushes.
type ChatMessage struct {
	ID         string
	ProjectID  string
	SenderID   string
	SenderRole string
	Body       string
	CreatedAt  time.Time
}

// Conversation interprets chat_message and typing frames for one project
// and keeps the merged message list plus the ephemeral typing set. Wire it
// up with mgr.SetHandler(conv.HandleFrame).
//
// Messages are appended in arrival order and never deduplicated here; a
// realtime push followed by a history reload of the same message shows
// twice unless the UI dedups by id.
type Conversation struct {
	projectID string
	mgr       *Manager
	baseURL   string
	client    *http.Client

	// TypingDebounce may be lowered in tests.
	TypingDebounce time.Duration

	mu          sync.Mutex
	messages    []ChatMessage
	typing      map[string]bool
	debounce    *time.Timer
	debounceGen uint64
	typingOn    bool
	closed      bool
}

func NewConversation(mgr *Manager, baseURL string, client *http.Client, projectID string) *Conversation {
	if client == nil {
		client = http.DefaultClient
	}
	return &Conversation{
		projectID:      projectID,
		mgr:            mgr,
		baseURL:        baseURL,
		client:         client,
		TypingDebounce: DefaultTypingDebounce,
		typing:         make(map[string]bool),
	}
}

// HandleFrame is the manager's inbound dispatch target. Frames for other
// projects and this user's own typing echoes are ignored.
func (c *Conversation) HandleFrame(frameType string, raw []byte) {
	switch frameType {
	case protocol.FrameTypeChatMessage:
		var frame protocol.ChatMessageFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("conversation: dropped malformed chat frame: %v", err)
			return
		}
		if frame.ProjectID != c.projectID {
			return
		}
		createdAt, _ := time.Parse(time.RFC3339, frame.Timestamp)
		c.mu.Lock()
		if !c.closed {
			c.messages = append(c.messages, ChatMessage{
				ID:         frame.ID,
				ProjectID:  frame.ProjectID,
				SenderID:   frame.SenderID,
				SenderRole: frame.SenderRole,
				Body:       frame.Message,
				CreatedAt:  createdAt,
			})
		}
		c.mu.Unlock()

	case protocol.FrameTypeTyping:
		var frame protocol.TypingFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("conversation: dropped malformed typing frame: %v", err)
			return
		}
		if frame.ProjectID != c.projectID {
			return
		}
		if selfID, _, ok := c.mgr.identity.Identity(); ok && frame.SenderID == selfID {
			return
		}
		c.mu.Lock()
		if !c.closed {
			if frame.IsTyping {
				c.typing[frame.SenderID] = true
			} else {
				delete(c.typing, frame.SenderID)
			}
		}
		c.mu.Unlock()
	}
}

// Keystroke records input activity. The first keystroke of a burst sends
// one typing-start; the stop signal fires once, TypingDebounce after the
// last keystroke.
func (c *Conversation) Keystroke() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	start := !c.typingOn
	c.typingOn = true
	if c.debounce != nil {
		c.debounce.Stop()
	}
	// The generation guards against a stopped timer that had already
	// fired and is waiting on the lock: only the latest timer may send
	// the stop signal.
	c.debounceGen++
	gen := c.debounceGen
	c.debounce = time.AfterFunc(c.TypingDebounce, func() { c.debounceStop(gen) })
	c.mu.Unlock()

	if start {
		c.mgr.SendTypingIndicator(c.projectID, true)
	}
}

func (c *Conversation) debounceStop(gen uint64) {
	c.mu.Lock()
	if c.closed || !c.typingOn || gen != c.debounceGen {
		c.mu.Unlock()
		return
	}
	c.typingOn = false
	c.mu.Unlock()
	c.mgr.SendTypingIndicator(c.projectID, false)
}

// StopTyping sends the explicit stop signal, e.g. right before a message
// goes out.
func (c *Conversation) StopTyping() {
	c.mu.Lock()
	if c.closed || !c.typingOn {
		c.mu.Unlock()
		return
	}
	c.typingOn = false
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.mu.Unlock()
	c.mgr.SendTypingIndicator(c.projectID, false)
}

// Close stops the debounce timer so no stale stop signal fires after the
// conversation view is gone.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.closed = true
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.mu.Unlock()
}

// SendMessage pushes the message over the realtime channel when connected
// (pure latency optimization for other viewers) and always persists it via
// the REST endpoint, which is the source of truth for history reloads.
func (c *Conversation) SendMessage(ctx context.Context, body string) error {
	c.StopTyping()

	if c.mgr.IsConnected() {
		if err := c.mgr.SendChatMessage(c.projectID, body); err != nil {
			log.Printf("conversation: realtime push skipped: %v", err)
		}
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	form.WriteField("projectId", c.projectID)
	form.WriteField("message", body)
	if err := form.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/project-messages", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("message create failed: %s", resp.Status)
	}
	return nil
}

// LoadHistory replaces the message list with the persisted history. After
// a reconnect gap this is how the view resynchronizes.
func (c *Conversation) LoadHistory(ctx context.Context) error {
	u := c.baseURL + "/api/project-messages?projectId=" + url.QueryEscape(c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("history load failed: %s", resp.Status)
	}

	// The persistence layer uses numeric ids; the realtime layer strings.
	var rows []struct {
		ID         int       `json:"id"`
		ProjectID  int       `json:"projectId"`
		SenderID   int       `json:"senderId"`
		SenderRole string    `json:"senderRole"`
		Body       string    `json:"message"`
		CreatedAt  time.Time `json:"createdAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return err
	}

	messages := make([]ChatMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, ChatMessage{
			ID:         strconv.Itoa(row.ID),
			ProjectID:  strconv.Itoa(row.ProjectID),
			SenderID:   strconv.Itoa(row.SenderID),
			SenderRole: row.SenderRole,
			Body:       row.Body,
			CreatedAt:  row.CreatedAt,
		})
	}

	c.mu.Lock()
	c.messages = messages
	c.mu.Unlock()
	return nil
}

// Messages returns a snapshot of the merged message list.
func (c *Conversation) Messages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// TypingUsers returns the ids currently typing, sorted for stable display.
func (c *Conversation) TypingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.typing))
	for id := range c.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
