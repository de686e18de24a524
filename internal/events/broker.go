// Package events streams per-document change notifications to browsers over
// Server-Sent Events.
package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types published by the service.
const (
	TypeChangeCreated   = "change.created"
	TypeChangeAccepted  = "change.accepted"
	TypeChangeRejected  = "change.rejected"
	TypeTrackingUpdated = "tracking.updated"
	TypeDocumentUpdated = "document.updated"
)

// Event is one notification scoped to a document.
type Event struct {
	DocumentID string `json:"documentId"`
	Type       string `json:"type"`
	Data       any    `json:"data"`
}

type client struct {
	documentID string
	ch         chan []byte
}

type commitReq struct {
	documentID string
	hash       string
}

// Broker fans events out to subscribers of the matching document.
//
// A single event loop owns the subscriber set and the per-document throttle
// timestamps; public methods talk to it over channels.
type Broker struct {
	docMin time.Duration

	subscribeCh   chan client
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	commitCh      chan commitReq
	countReqCh    chan countReq

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

type countReq struct {
	documentID string
	resp       chan int
}

// NewBroker starts a broker. document.updated is sent at most once per
// docThrottle for each document.
func NewBroker(docThrottle time.Duration) *Broker {
	if docThrottle <= 0 {
		docThrottle = time.Second
	}
	b := &Broker{
		docMin:        docThrottle,
		subscribeCh:   make(chan client),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		commitCh:      make(chan commitReq, 256),
		countReqCh:    make(chan countReq),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)
	lastUpdate := make(map[string]time.Time)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))
		for ch, documentID := range clients {
			if documentID != event.DocumentID {
				continue
			}
			select {
			case ch <- raw:
			default:
				// slow reader, drop
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case c := <-b.subscribeCh:
			clients[c.ch] = c.documentID

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.commitCh:
			now := time.Now()
			if now.Sub(lastUpdate[req.documentID]) < b.docMin {
				continue
			}
			lastUpdate[req.documentID] = now
			broadcast(Event{
				DocumentID: req.documentID,
				Type:       TypeDocumentUpdated,
				Data:       map[string]string{"documentId": req.documentID, "version": req.hash},
			})

		case req := <-b.countReqCh:
			n := 0
			for _, documentID := range clients {
				if req.documentID == "" || documentID == req.documentID {
					n++
				}
			}
			req.resp <- n
		}
	}
}

// Close stops the loop and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client for documentID and returns its channel.
func (b *Broker) Subscribe(documentID string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- client{documentID: documentID, ch: ch}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the subscribers of documentID, or of every document
// when documentID is empty.
func (b *Broker) ClientCount(documentID string) int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- countReq{documentID: documentID, resp: resp}:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishCommit announces a new document version, throttled per document.
func (b *Broker) PublishCommit(documentID, hash string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.commitCh <- commitReq{documentID: documentID, hash: hash}:
	case <-b.stopped:
	}
}

// Stream serves the SSE stream for documentID until the request ends or the
// broker closes.
func (b *Broker) Stream(w http.ResponseWriter, r *http.Request, documentID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(documentID)
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
