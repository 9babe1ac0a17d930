// Package bussink publishes decoded samples to any number of WebSocket
// subscribers, fire-and-forget: a sample that does not fit in a slow
// subscriber's send buffer is dropped for that subscriber rather than
// allowed to stall the producer, matching the reference client's own
// send-channel-per-connection pattern in its server's websocket handler.
package bussink

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"eegaudio/internal/frame"
)

const (
	streamType   = "EEG"
	sessionIDLen = 8
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// Channel describes one element of the published sample vector.
type Channel struct {
	Label string `json:"label"`
	Unit  string `json:"unit"`
	Type  string `json:"type"`
}

// Metadata identifies the stream to a newly connected subscriber, sent once
// immediately after upgrade.
type Metadata struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Channels  []Channel `json:"channels"`
}

type sampleMessage struct {
	T      float64   `json:"t"`
	Values []float64 `json:"values"`
}

// Hub accepts WebSocket subscribers and fans out decoded samples to all of
// them. Construct with New; it implements http.Handler.
type Hub struct {
	streamName string
	sessionID  string
	start      time.Time
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[*subscriber]struct{}
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// New builds a Hub for the given stream name. The session identifier is a
// random 8-character alphanumeric string, generated once per Hub the way
// the original LSL outlet generates its stream UID.
func New(streamName string) *Hub {
	return &Hub{
		streamName: streamName,
		sessionID:  randSessionID(),
		start:      time.Now(),
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:    make(map[*subscriber]struct{}),
	}
}

// Metadata returns the stream identity this Hub advertises to subscribers.
func (h *Hub) Metadata() Metadata {
	channels := make([]Channel, frame.Channels)
	for i := range channels {
		channels[i] = Channel{
			Label: frame.ChannelLabels[i],
			Unit:  frame.ChannelUnits[i],
			Type:  frame.ChannelTypes[i],
		}
	}
	return Metadata{
		Name:      h.streamName,
		Type:      streamType,
		SessionID: h.sessionID,
		Channels:  channels,
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// connection as a subscriber until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[bussink] upgrade failed: %v", err)
		return
	}

	sub := &subscriber{id: uuid.New().String(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(sub)
	defer h.unregister(sub)
	log.Printf("[bussink] subscriber %s connected", sub.id)

	if meta, err := json.Marshal(h.Metadata()); err == nil {
		select {
		case sub.send <- meta:
		default:
		}
	}

	go h.writeLoop(sub)

	// Subscribers are read-only; any inbound traffic (including the
	// close handshake) just needs to be drained so ReadMessage notices
	// disconnects promptly.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	defer sub.conn.Close()
	for msg := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (h *Hub) register(sub *subscriber) {
	h.mu.Lock()
	h.clients[sub] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.clients[sub]
	delete(h.clients, sub)
	h.mu.Unlock()
	if ok {
		close(sub.send)
		log.Printf("[bussink] subscriber %s disconnected", sub.id)
	}
}

// Publish pushes one sample to every connected subscriber. Subscribers
// whose send buffer is full are skipped for this sample rather than
// blocking the caller — the producer's real-time loop must never stall on
// a slow consumer.
func (h *Hub) Publish(sample frame.Sample) error {
	values := make([]float64, frame.Channels)
	copy(values, sample[:])
	msg, err := json.Marshal(sampleMessage{
		T:      time.Since(h.start).Seconds(),
		Values: values,
	})
	if err != nil {
		return fmt.Errorf("bussink: marshal failed: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.clients {
		select {
		case sub.send <- msg:
		default:
			log.Printf("[bussink] subscriber too slow, dropping sample")
		}
	}
	return nil
}

// Write implements the pipeline's sink contract by publishing sample.
func (h *Hub) Write(sample frame.Sample) error { return h.Publish(sample) }

// Close disconnects every subscriber. The underlying http.Server, if any,
// is owned and shut down by the caller.
func (h *Hub) Close() error {
	h.mu.Lock()
	clients := make([]*subscriber, 0, len(h.clients))
	for sub := range h.clients {
		clients = append(clients, sub)
	}
	h.mu.Unlock()

	for _, sub := range clients {
		sub.conn.Close()
	}
	return nil
}

func randSessionID() string {
	const charset = "0123456789abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, sessionIDLen)
	raw := make([]byte, sessionIDLen)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// fixed, clearly-synthetic ID rather than panicking the pipeline.
		return "00000000"
	}
	for i, v := range raw {
		b[i] = charset[int(v)%len(charset)]
	}
	return string(b)
}
