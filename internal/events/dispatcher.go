package events

import (
	"fmt"
	"sync"
	"unicode/utf8"

	klog "github.com/Klingon-tech/klingnet-partnership/internal/log"
	"github.com/Klingon-tech/klingnet-partnership/internal/metrics"
)

// Handler receives decoded events.
type Handler func(Event)

// Dispatcher validates notifications and forwards decoded events to
// subscribers. It never returns an error to its caller.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
	metrics  *metrics.Metrics
}

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{metrics: m}
}

// Subscribe registers fn for every decoded event.
func (d *Dispatcher) Subscribe(fn Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, fn)
}

// OnNotification handles one event from the node. An empty payload is
// ignored. A first element that is not valid UTF-8 is logged as a warning.
func (d *Dispatcher) OnNotification(n Notification) {
	kind := string(n.Type)
	if kind == "" {
		kind = string(TypeNotify)
	}
	if n.Type != "" && n.Type != TypeNotify {
		klog.Events.Debug().
			Str("type", kind).
			Str("contract", n.Contract.String()).
			Str("tx", n.TxID.String()).
			Msg("Contract event")
		d.metrics.Event(kind, "ignored")
		return
	}
	if len(n.Payload) == 0 {
		d.metrics.Event(kind, "empty")
		return
	}

	name, err := decodeName(n.Payload[0])
	if err != nil {
		klog.Events.Warn().
			Err(err).
			Str("tx", n.TxID.String()).
			Int("items", len(n.Payload)).
			Msg("Could not decode notification")
		d.metrics.Event(kind, "malformed")
		return
	}

	klog.Events.Info().
		Str("event", name).
		Str("tx", n.TxID.String()).
		Int("args", len(n.Payload)-1).
		Msg("Contract notification")
	d.metrics.Event(kind, "dispatched")

	ev := Event{Name: name, Notification: n}
	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()
	for _, h := range handlers {
		d.deliver(h, ev)
	}
}

func (d *Dispatcher) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			klog.Events.Error().Interface("panic", r).Str("event", ev.Name).Msg("Event handler panicked")
		}
	}()
	h(ev)
}

func decodeName(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: first element is not utf-8 (%d bytes)", ErrMalformedPayload, len(b))
	}
	return string(b), nil
}
