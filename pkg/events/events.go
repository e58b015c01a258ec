// Package events is a small typed publish/subscribe registry. Each event kind
// has its own Bus parameterised by its payload type, and a Hub groups the
// buses that belong to one annotation session.
package events

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lehigh-university-libraries/cxr-annotate/pkg/clustering"
)

var ErrNotSubscribed = errors.New("callback not subscribed")

type Kind int

const (
	KindLabelHover Kind = iota
	KindAnnotateImage
	KindPolygonsUpdated
	KindCustomLabelRenamed
	KindUnusedTextHighlight
)

func (k Kind) String() string {
	switch k {
	case KindLabelHover:
		return "label_hover"
	case KindAnnotateImage:
		return "annotate_image"
	case KindPolygonsUpdated:
		return "polygons_updated"
	case KindCustomLabelRenamed:
		return "custom_label_renamed"
	case KindUnusedTextHighlight:
		return "unused_text_highlight"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Subscription identifies one registered callback.
type Subscription struct {
	kind Kind
	id   uint64
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Bus delivers payloads of one kind to its listeners synchronously, in
// subscription order. Listeners may publish, subscribe or unsubscribe from
// inside a callback.
type Bus[T any] struct {
	kind      Kind
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[T]
}

func NewBus[T any](kind Kind) *Bus[T] {
	return &Bus[T]{kind: kind}
}

func (b *Bus[T]) Kind() Kind {
	return b.kind
}

func (b *Bus[T]) Subscribe(fn func(T)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners = append(b.listeners, listener[T]{id: b.nextID, fn: fn})
	return Subscription{kind: b.kind, id: b.nextID}
}

// Unsubscribe removes a callback. Removing one that is not registered on this
// bus, including one already removed, returns ErrNotSubscribed.
func (b *Bus[T]) Unsubscribe(sub Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.kind == b.kind {
		for i, l := range b.listeners {
			if l.id == sub.id {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("%s: %w", b.kind, ErrNotSubscribed)
}

// Publish calls every listener registered at the time of the call. Listeners
// added during delivery see the next publish only.
func (b *Bus[T]) Publish(payload T) {
	b.mu.Lock()
	snapshot := make([]listener[T], len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, l := range snapshot {
		l.fn(payload)
	}
}

func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// LabelRef names a ground-truth label by Name or a custom label by CustomID.
type LabelRef struct {
	Name     string `json:"name,omitempty"`
	CustomID int    `json:"custom_id,omitempty"`
	Custom   bool   `json:"custom"`
}

func (r LabelRef) String() string {
	if r.Custom {
		return fmt.Sprintf("custom:%d", r.CustomID)
	}
	return "gt:" + r.Name
}

type LabelHover struct {
	Label  string
	Ranges []clustering.Range
	Enter  bool
}

type AnnotateImage struct {
	Label   LabelRef
	DicomID string
}

type PolygonsUpdated struct {
	Label   LabelRef
	DicomID string
	Count   int
}

type CustomLabelRenamed struct {
	ID   int
	Name string
}

type UnusedTextHighlight struct {
	Ranges []clustering.Range
	On     bool
}

// Hub holds one bus per event kind.
type Hub struct {
	LabelHover          *Bus[LabelHover]
	AnnotateImage       *Bus[AnnotateImage]
	PolygonsUpdated     *Bus[PolygonsUpdated]
	CustomLabelRenamed  *Bus[CustomLabelRenamed]
	UnusedTextHighlight *Bus[UnusedTextHighlight]
}

func NewHub() *Hub {
	return &Hub{
		LabelHover:          NewBus[LabelHover](KindLabelHover),
		AnnotateImage:       NewBus[AnnotateImage](KindAnnotateImage),
		PolygonsUpdated:     NewBus[PolygonsUpdated](KindPolygonsUpdated),
		CustomLabelRenamed:  NewBus[CustomLabelRenamed](KindCustomLabelRenamed),
		UnusedTextHighlight: NewBus[UnusedTextHighlight](KindUnusedTextHighlight),
	}
}
