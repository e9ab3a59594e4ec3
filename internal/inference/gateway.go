package inference

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// Gateway is the single entry point for model generations. It owns readiness
// state (backend reachable, model present) and serializes generations per
// conversation so that interleaved requests against the same conversation
// cannot corrupt its history. Requests with an empty conversation ID are not
// serialized against each other.
type Gateway struct {
	provider Provider
	model    string
	log      *slog.Logger

	mu     sync.Mutex
	status Status
	subs   []chan Status
	convs  map[string]*sync.Mutex
}

// NewGateway creates a gateway over the given provider. The gateway starts
// uninitialized; call EnsureReady before issuing generations.
func NewGateway(provider Provider, model string, log *slog.Logger) *Gateway {
	return &Gateway{
		provider: provider,
		model:    model,
		log:      log,
		convs:    make(map[string]*sync.Mutex),
	}
}

// Model returns the configured model name.
func (g *Gateway) Model() string {
	return g.model
}

// Status returns the current readiness state.
func (g *Gateway) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Subscribe returns a channel receiving status updates. The channel is
// buffered; updates are dropped rather than blocking the gateway when the
// subscriber falls behind.
func (g *Gateway) Subscribe() <-chan Status {
	ch := make(chan Status, 8)
	g.mu.Lock()
	g.subs = append(g.subs, ch)
	g.mu.Unlock()
	return ch
}

func (g *Gateway) setStatus(s Status) {
	g.mu.Lock()
	g.status = s
	subs := make([]chan Status, len(g.subs))
	copy(subs, g.subs)
	g.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// EnsureReady verifies the backend is reachable and the configured model is
// present, downloading it if missing. onProgress receives download progress
// and may be nil. On success the gateway transitions to initialized and
// accepts generations.
func (g *Gateway) EnsureReady(ctx context.Context, onProgress func(PullProgress)) error {
	g.setStatus(Status{Loading: true})

	if !g.provider.IsRunning(ctx) {
		g.setStatus(Status{})
		return fmt.Errorf("inference backend is not reachable")
	}

	if !g.provider.HasModel(ctx, g.model) {
		g.log.Info("model not present, downloading", "model", g.model)
		if err := g.provider.PullModel(ctx, g.model, onProgress); err != nil {
			g.setStatus(Status{})
			return fmt.Errorf("pulling model %s: %w", g.model, err)
		}
	}

	g.setStatus(Status{Initialized: true})
	g.log.Info("inference gateway ready", "model", g.model)
	return nil
}

// convLock returns the serialization mutex for a conversation, creating it
// on first use. Entries are small and never reaped.
func (g *Gateway) convLock(id string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.convs[id]
	if !ok {
		m = &sync.Mutex{}
		g.convs[id] = m
	}
	return m
}

func (g *Gateway) ready() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.status.Initialized {
		return ErrNotInitialized
	}
	return nil
}

func buildMessages(req Request) []Message {
	messages := make([]Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	if req.Prompt != "" {
		messages = append(messages, Message{Role: "user", Content: req.Prompt})
	}
	return messages
}

// Generate runs a blocking generation and returns the full response.
// Requests for the same non-empty conversation ID are queued in arrival
// order.
func (g *Gateway) Generate(ctx context.Context, req Request) (string, error) {
	if err := g.ready(); err != nil {
		return "", err
	}

	if req.ConversationID != "" {
		lock := g.convLock(req.ConversationID)
		lock.Lock()
		defer lock.Unlock()
	}

	out, err := g.provider.Chat(ctx, g.model, buildMessages(req), req.Schema)
	if err != nil {
		return "", err
	}
	if !req.UseThinking {
		out = stripThinking(out)
	}
	return out, nil
}

// GenerateStream runs a streaming generation. The returned channel carries
// one Delta per content increment followed by exactly one terminal delta
// with IsFinished set; on failure the terminal delta carries Err. The
// channel is closed after the terminal delta.
func (g *Gateway) GenerateStream(ctx context.Context, req Request) (<-chan Delta, error) {
	if err := g.ready(); err != nil {
		return nil, err
	}

	out := make(chan Delta, 16)
	go func() {
		defer close(out)

		if req.ConversationID != "" {
			lock := g.convLock(req.ConversationID)
			lock.Lock()
			defer lock.Unlock()
		}

		var filter *thinkFilter
		if !req.UseThinking {
			filter = &thinkFilter{}
		}
		send := func(content string) {
			if content == "" {
				return
			}
			select {
			case out <- Delta{Content: content, ConversationID: req.ConversationID}:
			case <-ctx.Done():
			}
		}

		full, err := g.provider.ChatStream(ctx, g.model, buildMessages(req), func(content string) {
			if filter != nil {
				content = filter.feed(content)
			}
			send(content)
		})
		if err != nil {
			g.log.Error("streaming generation failed", "conversation", req.ConversationID, "error", err)
			out <- Delta{IsFinished: true, ConversationID: req.ConversationID, Err: err}
			return
		}
		if filter != nil {
			send(filter.finish())
			full = stripThinking(full)
		}
		out <- Delta{IsFinished: true, FullResponse: full, ConversationID: req.ConversationID}
	}()
	return out, nil
}

var thinkingRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinking removes reasoning blocks some local models emit even when
// thinking was not requested.
func stripThinking(s string) string {
	return strings.TrimSpace(thinkingRe.ReplaceAllString(s, ""))
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkFilter applies stripThinking incrementally, so that the concatenation
// of filtered chunks plus the finish tail equals stripThinking over the whole
// response. Only matched open/close pairs are removed; an unclosed block is
// flushed verbatim at finish. Leading whitespace is dropped and trailing
// whitespace is held back until more content arrives.
type thinkFilter struct {
	pending  string // tail that may begin an open tag
	inThink  bool
	thinkBuf string // body of the current block, tags excluded
	started  bool   // a non-space character has been emitted
	heldWS   string // whitespace held back pending further content
}

func (f *thinkFilter) feed(chunk string) string {
	var out strings.Builder
	s := f.pending + chunk
	f.pending = ""
	for s != "" {
		if f.inThink {
			buf := f.thinkBuf + s
			i := strings.Index(buf, thinkClose)
			if i < 0 {
				f.thinkBuf = buf
				return out.String()
			}
			f.thinkBuf = ""
			f.inThink = false
			s = buf[i+len(thinkClose):]
			continue
		}
		if i := strings.Index(s, thinkOpen); i >= 0 {
			f.emit(&out, s[:i])
			s = s[i+len(thinkOpen):]
			f.inThink = true
			continue
		}
		keep := tagOverlap(s, thinkOpen)
		f.emit(&out, s[:len(s)-keep])
		f.pending = s[len(s)-keep:]
		break
	}
	return out.String()
}

// finish flushes whatever the filter was holding back. A partial open tag is
// plain text after all; an unclosed block is restored with its tag.
func (f *thinkFilter) finish() string {
	var out strings.Builder
	if f.pending != "" {
		f.emit(&out, f.pending)
		f.pending = ""
	}
	if f.inThink {
		f.emit(&out, thinkOpen+f.thinkBuf)
		f.thinkBuf = ""
		f.inThink = false
	}
	return out.String()
}

func (f *thinkFilter) emit(out *strings.Builder, text string) {
	if text == "" {
		return
	}
	body := strings.TrimRightFunc(text, unicode.IsSpace)
	tail := text[len(body):]
	if !f.started {
		body = strings.TrimLeftFunc(body, unicode.IsSpace)
	}
	if body != "" {
		out.WriteString(f.heldWS)
		out.WriteString(body)
		f.heldWS = ""
		f.started = true
	}
	if f.started {
		f.heldWS += tail
	}
}

// tagOverlap reports the length of the longest suffix of s that is a proper
// prefix of tag.
func tagOverlap(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(tag, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}
