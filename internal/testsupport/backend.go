package testsupport

import (
	"context"
	"sync"

	"archivist/internal/services/llm"
)

// Responder produces a fake model reply for req.
type Responder func(req llm.Request) (string, error)

// FakeBackend is a scripted llm.Backend that records every request.
type FakeBackend struct {
	mu      sync.Mutex
	respond Responder
	calls   []llm.Request
}

// NewFakeBackend returns a backend answering with respond.
func NewFakeBackend(respond Responder) *FakeBackend {
	return &FakeBackend{respond: respond}
}

// Reply is one scripted response.
type Reply struct {
	Content string
	Err     error
}

// Scripted returns a Responder that replays replies in order and repeats the
// last one once the script is exhausted.
func Scripted(replies ...Reply) Responder {
	var mu sync.Mutex
	next := 0
	return func(llm.Request) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(replies) == 0 {
			return "{}", nil
		}
		reply := replies[next]
		if next < len(replies)-1 {
			next++
		}
		return reply.Content, reply.Err
	}
}

// Complete implements llm.Backend.
func (f *FakeBackend) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	respond := f.respond
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if respond == nil {
		return "{}", nil
	}
	return respond(req)
}

// Kind implements llm.Backend.
func (f *FakeBackend) Kind() string { return "fake" }

// Calls returns a copy of the recorded requests.
func (f *FakeBackend) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.calls...)
}

// CallCount returns the number of recorded requests.
func (f *FakeBackend) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
