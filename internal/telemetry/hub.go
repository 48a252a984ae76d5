package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/monitor-car/mcc/internal/config"
)

const globalChannel = "global"

// Event represents a telemetry event with SSE formatting.
type Event struct {
	ID      int64                  `json:"id,omitempty"`
	Type    string                 `json:"type"`
	Data    map[string]interface{} `json:"data"`
	Channel string                 `json:"channel,omitempty"`
}

// SnapshotFunc returns the state embedded in each client's ready event.
type SnapshotFunc func() interface{}

// Client represents an SSE client connection.
type Client struct {
	ID      string
	Writer  http.ResponseWriter
	Context context.Context
	Cancel  context.CancelFunc
	LastID  int64
	Channel string
	Events  chan Event
	mu      sync.Mutex // Protect Writer access
}

// Hub manages SSE telemetry distribution with per-channel buffering.
//
// Lock order: h.mu, then EventBuffer.mu, then Client.mu.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	channelIDs map[string]*int64
	buffers    map[string]*EventBuffer
	snapshot   SnapshotFunc

	config *config.TimingConfig
	logger *zap.Logger

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// EventBuffer maintains a circular buffer of events for one channel.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewHub creates a telemetry hub. A nil logger disables hub logging.
func NewHub(timingConfig *config.TimingConfig, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		channelIDs: make(map[string]*int64),
		buffers:    make(map[string]*EventBuffer),
		config:     timingConfig,
		logger:     logger.Named("telemetry"),
		done:       make(chan struct{}),
	}
}

// SetSnapshot installs the source of the ready-event snapshot.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribe streams events to w until ctx is cancelled or a write fails.
// The optional "channel" query parameter selects which buffer a
// Last-Event-ID header replays from.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCtx, cancel := context.WithCancel(ctx)

	lastEventID := int64(0)
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	client := &Client{
		ID:      uuid.NewString(),
		Writer:  w,
		Context: clientCtx,
		Cancel:  cancel,
		LastID:  lastEventID,
		Channel: r.URL.Query().Get("channel"),
		Events:  make(chan Event, queueSize(h.config)),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	if h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()
	defer h.unregisterClient(client.ID)

	h.logger.Debug("client subscribed", zap.String("client", client.ID), zap.String("channel", client.Channel))

	if err := h.sendReadyEvent(client); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	if lastEventID > 0 {
		if err := h.replayEvents(client, lastEventID); err != nil {
			return fmt.Errorf("failed to replay events: %w", err)
		}
	}

	h.handleClient(client)
	return nil
}

// Publish assigns an ID, buffers channel events and delivers to every client.
func (h *Hub) Publish(event Event) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if event.ID == 0 {
		event.ID = h.nextEventID(event.Channel)
	}
	if event.Channel != "" {
		h.bufferEvent(event)
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case <-client.Context.Done():
			continue
		case <-h.done:
			return nil
		case client.Events <- event:
		case <-time.After(100 * time.Millisecond):
			h.logger.Warn("dropping event for slow client",
				zap.String("client", client.ID), zap.String("type", event.Type), zap.Int64("id", event.ID))
		}
	}

	return nil
}

// PublishChannel publishes an event for a specific motor channel.
func (h *Hub) PublishChannel(channel string, event Event) error {
	event.Channel = channel
	return h.Publish(event)
}

func (h *Hub) sendReadyEvent(client *Client) error {
	h.mu.RLock()
	snapshotFn := h.snapshot
	h.mu.RUnlock()

	var snapshot interface{} = map[string]interface{}{}
	if snapshotFn != nil {
		snapshot = snapshotFn()
	}

	return h.sendEventToClient(client, Event{
		Type: EventReady,
		Data: map[string]interface{}{
			"client":   client.ID,
			"snapshot": snapshot,
		},
	})
}

func (h *Hub) replayEvents(client *Client, lastEventID int64) error {
	h.mu.RLock()
	buffer, exists := h.buffers[client.Channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}

	for _, event := range buffer.GetEventsAfter(lastEventID) {
		if err := h.sendEventToClient(client, event); err != nil {
			return err
		}
	}
	return nil
}

// sendEventToClient writes one SSE frame and flushes it.
func (h *Hub) sendEventToClient(client *Client, event Event) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	if event.ID > 0 {
		if _, err := fmt.Fprintf(client.Writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(client.Writer, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}
	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	if flusher, ok := client.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (h *Hub) handleClient(client *Client) {
	for {
		select {
		case <-client.Context.Done():
			return
		case <-h.done:
			return
		case event := <-client.Events:
			if err := h.sendEventToClient(client, event); err != nil {
				h.logger.Debug("client write failed", zap.String("client", client.ID), zap.Error(err))
				return
			}
		}
	}
}

func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, exists := h.clients[clientID]
	if !exists {
		return
	}
	client.Cancel()
	delete(h.clients, clientID)
	h.logger.Debug("client unsubscribed", zap.String("client", clientID))

	if len(h.clients) == 0 {
		h.stopHeartbeatLocked()
	}
}

// nextEventID returns the next monotonic event ID for a channel.
func (h *Hub) nextEventID(channel string) int64 {
	if channel == "" {
		channel = globalChannel
	}

	h.mu.RLock()
	counter, exists := h.channelIDs[channel]
	h.mu.RUnlock()
	if exists {
		return atomic.AddInt64(counter, 1)
	}

	h.mu.Lock()
	counter, exists = h.channelIDs[channel]
	if !exists {
		counter = new(int64)
		h.channelIDs[channel] = counter
	}
	h.mu.Unlock()

	return atomic.AddInt64(counter, 1)
}

// bufferEvent appends to the channel buffer. Buffers are never removed,
// so the reference stays valid after h.mu is released.
func (h *Hub) bufferEvent(event Event) {
	h.mu.Lock()
	buffer, exists := h.buffers[event.Channel]
	if !exists {
		buffer = NewEventBuffer(h.config.EventBufferSize)
		h.buffers[event.Channel] = buffer
	}
	h.mu.Unlock()

	buffer.AddEvent(event)
}

// startHeartbeat starts the heartbeat ticker. Caller holds h.mu.
func (h *Hub) startHeartbeat() {
	interval := h.config.HeartbeatInterval + h.config.HeartbeatJitter/2

	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	h.heartbeatTicker = ticker
	h.stopHeartbeat = stop

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.sendHeartbeat()
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// stopHeartbeatLocked stops the heartbeat goroutine. Caller holds h.mu.
func (h *Hub) stopHeartbeatLocked() {
	if h.heartbeatTicker == nil {
		return
	}
	h.heartbeatTicker.Stop()
	h.heartbeatTicker = nil
	close(h.stopHeartbeat)
	h.stopHeartbeat = nil
}

func (h *Hub) sendHeartbeat() {
	_ = h.Publish(Event{
		Type: EventHeartbeat,
		Data: map[string]interface{}{
			"ts": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// Stop disconnects all clients and stops the heartbeat. Safe to call twice.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, client := range h.clients {
			client.Cancel()
		}
		h.stopHeartbeatLocked()
		h.mu.Unlock()

		waited := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(5 * time.Second):
			h.logger.Warn("telemetry goroutines did not exit within 5s")
		}
	})
}

func queueSize(cfg *config.TimingConfig) int {
	if cfg.EventQueueSize > 0 {
		return cfg.EventQueueSize
	}
	return 100
}

// NewEventBuffer creates an event buffer with the given capacity.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventBuffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// AddEvent appends an event, evicting the oldest beyond capacity.
func (b *EventBuffer) AddEvent(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[1:]
	}
}

// GetEventsAfter returns buffered events with ID greater than lastID.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.ID > lastID {
			result = append(result, event)
		}
	}
	return result
}

// GetCapacity returns the buffer capacity.
func (b *EventBuffer) GetCapacity() int {
	return b.capacity
}

// GetSize returns the current buffer size.
func (b *EventBuffer) GetSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
