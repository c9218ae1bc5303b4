// Package dispatchtest provides test doubles for the dispatch engine.
package dispatchtest

import (
	"sync"

	"github.com/flemzord/chatbot/internal/dispatch"
)

// EventKind identifies a presenter notification.
type EventKind string

// Notification kinds recorded by Presenter.
const (
	ProcessingStarted EventKind = "processing_started"
	ProcessingEnded   EventKind = "processing_ended"
	AssistantTurn     EventKind = "assistant_turn"
	Status            EventKind = "status"
)

// Event is one recorded notification.
type Event struct {
	Kind    EventKind
	Text    string
	IsError bool
}

// Presenter records every notification it receives. Safe for concurrent use.
type Presenter struct {
	mu     sync.Mutex
	events []Event

	// OnStarted, when set, runs inside ProcessingStarted.
	OnStarted func()
}

var _ dispatch.Presenter = (*Presenter)(nil)

func (p *Presenter) ProcessingStarted() {
	p.record(Event{Kind: ProcessingStarted})
	if p.OnStarted != nil {
		p.OnStarted()
	}
}

func (p *Presenter) ProcessingEnded() {
	p.record(Event{Kind: ProcessingEnded})
}

func (p *Presenter) AssistantTurn(text string) {
	p.record(Event{Kind: AssistantTurn, Text: text})
}

func (p *Presenter) Status(message string, isError bool) {
	p.record(Event{Kind: Status, Text: message, IsError: isError})
}

// Events returns a copy of the recorded notifications.
func (p *Presenter) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Statuses returns the recorded status messages in order.
func (p *Presenter) Statuses() []string {
	var out []string
	for _, ev := range p.Events() {
		if ev.Kind == Status {
			out = append(out, ev.Text)
		}
	}
	return out
}

// Count returns how many notifications of kind were recorded.
func (p *Presenter) Count(kind EventKind) int {
	n := 0
	for _, ev := range p.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (p *Presenter) record(ev Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}
