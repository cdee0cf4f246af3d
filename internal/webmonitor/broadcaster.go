package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
)

// FrameBroadcaster manages fanout of JPEG frames to multiple clients.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	latest  func() []byte
	stopped bool
}

// NewFrameBroadcaster creates a broadcaster. latest primes new subscribers.
func NewFrameBroadcaster(latest func() []byte) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
		latest:  latest,
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// The channel starts with the current frame so new viewers see something immediately.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	var first []byte
	if fb.latest != nil {
		first = fb.latest()
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if fb.stopped {
		close(ch)
		return id, ch
	}
	if first != nil {
		ch <- first
	}
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Clients returns the number of connected clients
func (fb *FrameBroadcaster) Clients() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Stop disconnects all clients. Later subscribers get a closed channel.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.stopped {
		return
	}
	fb.stopped = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Base64 of a google.protobuf.Struct for SSE
}

// DetectionBroadcaster manages fanout of detection events to multiple SSE clients.
type DetectionBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	stopped bool
}

// NewDetectionBroadcaster creates a broadcaster for detection events.
func NewDetectionBroadcaster() *DetectionBroadcaster {
	return &DetectionBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
	}
}

// Subscribe adds a new client and returns a channel for receiving detection events.
func (db *DetectionBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id := db.nextID
	db.nextID++
	ch := make(chan *SerializedEvent, 8)
	if db.stopped {
		close(ch)
		return id, ch
	}
	db.clients[id] = ch

	logger.Debug("DetectionBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(db.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (db *DetectionBroadcaster) Unsubscribe(id int) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if ch, ok := db.clients[id]; ok {
		close(ch)
		delete(db.clients, id)
		logger.Debug("DetectionBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(db.clients))
	}
}

// Stop disconnects all clients.
func (db *DetectionBroadcaster) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.stopped {
		return
	}
	db.stopped = true
	for id, ch := range db.clients {
		close(ch)
		delete(db.clients, id)
	}
}

func (db *DetectionBroadcaster) publish(det DetectionResult) {
	if db.empty() {
		return
	}
	event, err := serializeEvent(map[string]any{
		"type":         "detection",
		"frame_number": det.FrameNumber,
		"timestamp":    det.Timestamp,
		"source":       det.Source,
		"label_text":   det.LabelText,
		"spoken":       det.Spoken,
		"detections":   det.Detections,
	})
	if err != nil {
		logger.Error("DetectionBroadcaster", "Serialize error: %v", err)
		return
	}
	db.broadcast(event)
}

func (db *DetectionBroadcaster) publishIdle() {
	if db.empty() {
		return
	}
	event, err := serializeEvent(map[string]any{"type": "idle"})
	if err != nil {
		logger.Error("DetectionBroadcaster", "Serialize error: %v", err)
		return
	}
	db.broadcast(event)
}

func (db *DetectionBroadcaster) empty() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.clients) == 0
}

func (db *DetectionBroadcaster) broadcast(event *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, ch := range db.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}

// serializeEvent encodes payload as JSON, and as a protobuf Struct built from that JSON
func serializeEvent(payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var st structpb.Struct
	if err := protojson.Unmarshal(jsonData, &st); err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(&st)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
