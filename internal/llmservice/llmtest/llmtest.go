// Package llmtest provides deterministic stand-ins for language and embedding
// models, for use in tests that must not reach the network.
package llmtest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

// Reply is one scripted model outcome.
type Reply struct {
	Text string
	Err  error
}

// Model replays scripted replies in order and records every call. When the
// script runs out, Respond is used if set, otherwise the last reply repeats.
type Model struct {
	mu      sync.Mutex
	Replies []Reply
	Respond func(messages []llms.MessageContent, opts llms.CallOptions) (string, error)
	Calls   []Call
}

type Call struct {
	Messages []llms.MessageContent
	Options  llms.CallOptions
}

var _ llms.Model = (*Model)(nil)

func NewModel(replies ...Reply) *Model {
	return &Model{Replies: replies}
}

func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}

	m.mu.Lock()
	idx := len(m.Calls)
	m.Calls = append(m.Calls, Call{Messages: messages, Options: opts})
	var reply Reply
	switch {
	case idx < len(m.Replies):
		reply = m.Replies[idx]
	case m.Respond != nil:
		m.mu.Unlock()
		text, err := m.Respond(messages, opts)
		return response(text, err)
	case len(m.Replies) > 0:
		reply = m.Replies[len(m.Replies)-1]
	default:
		reply = Reply{Err: errors.New("no replies configured")}
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return response(reply.Text, reply.Err)
}

func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// CallCount returns the number of GenerateContent calls seen so far.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// PromptText joins all text parts of a recorded call.
func (c Call) PromptText() string {
	var sb strings.Builder
	for _, msg := range c.Messages {
		for _, p := range msg.Parts {
			if t, ok := p.(llms.TextContent); ok {
				sb.WriteString(t.Text)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func response(text string, err error) (*llms.ContentResponse, error) {
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

// HashEmbed maps text to a normalized bag-of-words vector of the given
// dimension. Texts sharing words get similar vectors.
func HashEmbed(text string, dim int) []float32 {
	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// NewEmbedder returns a langchaingo embedder backed by HashEmbed.
func NewEmbedder(dim int) embeddings.Embedder {
	client := embeddings.EmbedderClientFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			out[i] = HashEmbed(t, dim)
		}
		return out, nil
	})
	e, err := embeddings.NewEmbedder(client)
	if err != nil {
		panic(err)
	}
	return e
}

// FailingEmbedder returns err for every request.
func FailingEmbedder(err error) embeddings.Embedder {
	client := embeddings.EmbedderClientFunc(func(context.Context, []string) ([][]float32, error) {
		return nil, err
	})
	e, _ := embeddings.NewEmbedder(client)
	return e
}
