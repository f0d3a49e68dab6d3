// Provenance Viewer - live routing display
// Consumes provenance and routed-document topics from Kafka and pushes them to
// the browser over WebSocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

// ViewerEvent is one line in the viewer.
type ViewerEvent struct {
	Source       string `json:"source"`
	EventType    string `json:"eventType"`
	DocumentID   string `json:"documentId"`
	Relationship string `json:"relationship"`
	Details      string `json:"details,omitempty"`
	Component    string `json:"component,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// Hub manages WebSocket connections
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan ViewerEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan ViewerEvent, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			log.Printf("Client connected. Total: %d", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			log.Printf("Client disconnected. Total: %d", len(h.clients))

		case event := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					log.Printf("Write error: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local dev only
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}
		hub.register <- conn

		go func() {
			defer func() {
				hub.unregister <- conn
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}
}

// decodeFunc turns a Kafka message into a viewer event.
type decodeFunc func(kafka.Message) (ViewerEvent, bool)

// decodeProvenance reads a provenance record published by the service.
func decodeProvenance(msg kafka.Message) (ViewerEvent, bool) {
	var event ViewerEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Printf("JSON unmarshal error: %v", err)
		return ViewerEvent{}, false
	}
	event.Source = "provenance"
	return event, true
}

// decodeRouted summarizes a routed document from its headers.
func decodeRouted(msg kafka.Message) (ViewerEvent, bool) {
	event := ViewerEvent{
		Source:     "document",
		EventType:  "ROUTED",
		DocumentID: string(msg.Key),
		Timestamp:  msg.Time.UnixMilli(),
	}
	for _, h := range msg.Headers {
		switch h.Key {
		case "relationship":
			event.Relationship = string(h.Value)
		case "validation.error":
			event.Details = string(h.Value)
		case "filename":
			event.Component = string(h.Value)
		}
	}
	return event, true
}

func consumeKafka(ctx context.Context, hub *Hub, brokers, topic string, decode decodeFunc) {
	// Partition reader without consumer group (works better through port-forward)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour)); err != nil {
		log.Printf("Seek error on %s: %v", topic, err)
	}

	log.Printf("Consuming from Kafka topic: %s partition 0 (last hour)", topic)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}

		event, ok := decode(msg)
		if !ok {
			continue
		}
		log.Printf("Received %s %s -> %s %s", event.EventType, event.DocumentID, event.Relationship, truncate(event.Details, 60))
		hub.broadcast <- event
	}
}

const indexHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Provenance Viewer</title>
<style>
body{font-family:monospace;margin:1em}
.valid{color:#2a7d2a}.invalid{color:#b22}
</style></head>
<body>
<h3>Routing events</h3>
<div id="log"></div>
<script>
const log = document.getElementById("log");
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (m) => {
  const e = JSON.parse(m.data);
  const div = document.createElement("div");
  div.className = e.relationship;
  div.textContent = new Date(e.timestamp).toISOString() + " [" + e.source + "] " +
    e.documentId + " -> " + e.relationship + (e.details ? " : " + e.details : "");
  log.prepend(div);
};
</script>
</body>
</html>
`

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicProvenance := flag.String("topic-provenance", "documents.provenance", "Provenance topic")
	topicInvalid := flag.String("topic-invalid", "documents.invalid", "Invalid documents topic")
	flag.Parse()

	hub := newHub()
	go hub.run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go consumeKafka(ctx, hub, *brokers, *topicProvenance, decodeProvenance)
	go consumeKafka(ctx, hub, *brokers, *topicInvalid, decodeRouted)

	http.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})
	http.HandleFunc("/ws", wsHandler(hub))

	log.Printf("Provenance Viewer starting on http://localhost:%s", *port)
	log.Printf("   Kafka brokers: %s", *brokers)
	log.Printf("   Topics: %s, %s", *topicProvenance, *topicInvalid)

	if err := http.ListenAndServe(":"+*port, nil); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
