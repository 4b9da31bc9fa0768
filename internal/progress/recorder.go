package progress

import (
	"fmt"
	"sync"
)

// Recorder keeps every update in memory. The HTTP server uses it to return
// ingestion messages with the response, tests use it to assert on them.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

type Event struct {
	Kind    string `json:"kind"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
	Message string `json:"message"`
}

const (
	KindInfo     = "info"
	KindSuccess  = "success"
	KindProgress = "progress"
)

var _ Reporter = (*Recorder)(nil)

func (r *Recorder) Info(msg string) {
	r.add(Event{Kind: KindInfo, Message: msg})
}

func (r *Recorder) Success(msg string) {
	r.add(Event{Kind: KindSuccess, Message: msg})
}

func (r *Recorder) Progress(current, total int, msg string) {
	r.add(Event{Kind: KindProgress, Current: current, Total: total, Message: msg})
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
}

// Messages returns the messages of the recorded events of the given kind.
func (r *Recorder) Messages(kind string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.Events {
		if e.Kind == kind {
			out = append(out, e.Message)
		}
	}
	return out
}

func (e Event) String() string {
	if e.Kind == KindProgress {
		return fmt.Sprintf("%s %d/%d: %s", e.Kind, e.Current, e.Total, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
