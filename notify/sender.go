package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrNoRecipient is returned for messages without a To address.
	ErrNoRecipient = errors.New("notify: message has no recipient")
	// ErrSendFailed wraps the last delivery error once retries are exhausted.
	ErrSendFailed = errors.New("notify: delivery failed")
)

// Message is one outbound e-mail. Text is the plain alternative of HTML.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return ErrNoRecipient
	}
	return nil
}

// Sender delivers a message. Implementations must be safe for concurrent
// use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Discard drops every message.
var Discard Sender = SenderFunc(func(context.Context, Message) error { return nil })

// Recorder keeps every message it is given. It is meant for tests and local
// development.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	Err  error
}

// Send records msg and returns r.Err.
func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.Err
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Last returns the most recent message sent to addr.
func (r *Recorder) Last(addr string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if strings.EqualFold(r.msgs[i].To, addr) {
			return r.msgs[i], true
		}
	}
	return Message{}, false
}
