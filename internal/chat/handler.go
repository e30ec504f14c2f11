package chat

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"studiolink/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (dev mode)
	},
}

type Handler struct {
	hub  *Hub
	repo *Repository
}

func NewHandler(hub *Hub, repo *Repository) *Handler {
	return &Handler{
		hub:  hub,
		repo: repo,
	}
}

// ServeWs upgrades an authenticated request to a websocket and starts the
// pumps. Registration is immediate; business frames are gated on the auth
// frame inside ReadPump.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := &Client{
		Hub:    h.hub,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		UserID: strconv.Itoa(claims.ID),
		Role:   claims.Role,
	}
	client.Hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// GetProjectMessages backs GET /api/project-messages?projectId=, the
// durable history clients resynchronize from after a reconnect gap.
func (h *Handler) GetProjectMessages(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.Atoi(r.URL.Query().Get("projectId"))
	if err != nil {
		http.Error(w, "invalid projectId", http.StatusBadRequest)
		return
	}

	msgs, err := h.repo.GetProjectMessages(r.Context(), projectID)
	if err != nil {
		http.Error(w, "failed to load messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*Message{}
	}

	json.NewEncoder(w).Encode(msgs)
}

// CreateProjectMessage backs POST /api/project-messages. Multipart form
// with projectId and message fields plus optional file parts; attachments
// are accepted but not stored yet.
// TODO: persist attachments once the projects file store lands.
func (h *Handler) CreateProjectMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	projectID, err := strconv.Atoi(r.FormValue("projectId"))
	if err != nil {
		http.Error(w, "invalid projectId", http.StatusBadRequest)
		return
	}
	body := r.FormValue("message")
	if body == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	msg, err := h.repo.SaveMessage(r.Context(), projectID, claims.ID, claims.Role, body)
	if err != nil {
		http.Error(w, "failed to save message", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}
