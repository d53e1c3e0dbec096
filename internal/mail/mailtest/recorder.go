// Package mailtest provides a recording mail.Sender for tests.
package mailtest

import (
	"context"
	"strings"
	"sync"

	"github.com/formrelay/formrelay/internal/mail"
)

// Recorder keeps every message it is asked to send. When Err is set, Send
// records nothing and returns it.
type Recorder struct {
	mu   sync.Mutex
	sent []mail.Message
	Err  error
}

// Send implements mail.Sender.
func (r *Recorder) Send(_ context.Context, msg mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []mail.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mail.Message(nil), r.sent...)
}

// Count returns the number of recorded messages.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// Last returns the most recent message, or the zero Message.
func (r *Recorder) Last() mail.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return mail.Message{}
	}
	return r.sent[len(r.sent)-1]
}

// WithSubject counts messages whose subject contains s.
func (r *Recorder) WithSubject(s string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.sent {
		if strings.Contains(m.Subject, s) {
			n++
		}
	}
	return n
}

// Reset forgets recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
