package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/sse"
	"github.com/xxxsen/docchat/internal/telemetry"
)

const (
	NoContextScopedAnswer   = "I couldn't find any relevant information in the selected document to answer your question."
	NoContextUnscopedAnswer = "I couldn't find any relevant information in your documents to answer your question."
	RefusalSentence         = "I'm sorry, but I couldn't find that information in your document."

	DefaultHistoryTurns = 10
	maxFrameLogBytes    = 200
)

const systemPromptTemplate = `You are a document assistant. You answer questions about the user's documents using only the context below.

CONTEXT FROM DOCUMENT:
%s

RULES:
1. Answer only from the context above. Do not use outside knowledge and never invent facts, names, numbers or sources.
2. Speak in the first person, in a friendly and direct tone.
3. If the context only partly covers the question, summarize what it does say instead of refusing.
4. If nothing in the context applies to the question, reply exactly: "%s"
5. Use the conversation history to resolve references such as "it" or "this".`

// TranscriptStore persists assistant messages produced by the pipeline.
type TranscriptStore interface {
	SaveMessage(ctx context.Context, msg *model.Message) error
}

type AnswerRequest struct {
	SessionID string
	Question  string
	// History is the prior conversation, oldest first.
	History []model.Message
	Chunks  []model.ScoredChunk
	// Scoped is true when the question targets a single document.
	Scoped bool
}

type AnswerPipeline struct {
	chat         ai.IChat
	store        TranscriptStore
	maxTokens    int
	temperature  float64
	historyTurns int
}

type PipelineOption func(p *AnswerPipeline)

func WithGeneration(maxTokens int, temperature float64) PipelineOption {
	return func(p *AnswerPipeline) {
		if maxTokens > 0 {
			p.maxTokens = maxTokens
		}
		if temperature >= 0 {
			p.temperature = temperature
		}
	}
}

func WithHistoryTurns(n int) PipelineOption {
	return func(p *AnswerPipeline) {
		if n > 0 {
			p.historyTurns = n
		}
	}
}

func NewAnswerPipeline(chat ai.IChat, store TranscriptStore, opts ...PipelineOption) *AnswerPipeline {
	p := &AnswerPipeline{
		chat:         chat,
		store:        store,
		maxTokens:    512,
		temperature:  0.1,
		historyTurns: DefaultHistoryTurns,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func noContextAnswer(scoped bool) string {
	if scoped {
		return NoContextScopedAnswer
	}
	return NoContextUnscopedAnswer
}

func (p *AnswerPipeline) buildRequest(req *AnswerRequest) *ai.ChatRequest {
	parts := make([]string, 0, len(req.Chunks))
	for _, c := range req.Chunks {
		parts = append(parts, c.Content)
	}
	messages := []ai.ChatMessage{{
		Role:    ai.RoleSystem,
		Content: fmt.Sprintf(systemPromptTemplate, strings.Join(parts, "\n\n"), RefusalSentence),
	}}
	history := req.History
	if len(history) > p.historyTurns {
		history = history[len(history)-p.historyTurns:]
	}
	for _, m := range history {
		role := ai.RoleUser
		if m.Role == model.RoleAI {
			role = ai.RoleAssistant
		}
		messages = append(messages, ai.ChatMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: req.Question})
	return &ai.ChatRequest{
		Messages:    messages,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
}

func (p *AnswerPipeline) persist(ctx context.Context, sessionID, content string) error {
	return p.store.SaveMessage(ctx, &model.Message{
		ID:        newID(),
		SessionID: sessionID,
		Role:      model.RoleAI,
		Content:   content,
		Ctime:     nowMillis(),
	})
}

// Answer runs the pipeline to completion. The answer, canned or generated, is
// persisted as one assistant message; a persist failure is logged only.
func (p *AnswerPipeline) Answer(ctx context.Context, req *AnswerRequest) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "answer.complete")
	defer span.End()
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", req.SessionID))

	answer := noContextAnswer(req.Scoped)
	if len(req.Chunks) > 0 {
		out, err := p.chat.Complete(ctx, p.buildRequest(req))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "completion failed")
			return "", err
		}
		answer = out
	} else {
		span.SetAttributes(attribute.Bool("canned", true))
	}
	if err := p.persist(ctx, req.SessionID, answer); err != nil {
		logger.Error("persist answer failed", zap.Error(err))
	}
	return answer, nil
}

// Stream opens a streamed answer. An error is returned only when the upstream
// call fails before the stream opens. The caller must drain Fragments or
// cancel ctx.
func (p *AnswerPipeline) Stream(ctx context.Context, req *AnswerRequest) (*AnswerStream, error) {
	if len(req.Chunks) == 0 {
		answer := noContextAnswer(req.Scoped)
		res := StreamResult{State: StreamClosed, Content: answer}
		if err := p.persist(ctx, req.SessionID, answer); err != nil {
			logutil.GetLogger(ctx).Error("persist answer failed", zap.String("session_id", req.SessionID), zap.Error(err))
			res.Err = err
		}
		return newStaticStream(answer, res), nil
	}
	body, err := p.chat.Stream(ctx, p.buildRequest(req))
	if err != nil {
		return nil, err
	}
	s := &AnswerStream{
		fragments: make(chan string),
		done:      make(chan struct{}),
	}
	go p.produce(ctx, req.SessionID, body, s)
	return s, nil
}

type StreamState int

const (
	StreamOpen StreamState = iota
	StreamClosed
	StreamErrored
	StreamCancelled
)

func (s StreamState) String() string {
	switch s {
	case StreamOpen:
		return "open"
	case StreamClosed:
		return "closed"
	case StreamErrored:
		return "errored"
	case StreamCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StreamResult is the terminal outcome of a stream. Content is the persisted
// answer for StreamClosed and the discarded partial text otherwise.
type StreamResult struct {
	State   StreamState
	Content string
	Err     error
}

type AnswerStream struct {
	fragments chan string
	done      chan struct{}
	result    StreamResult
}

func newStaticStream(answer string, res StreamResult) *AnswerStream {
	s := &AnswerStream{
		fragments: make(chan string, 1),
		done:      make(chan struct{}),
		result:    res,
	}
	s.fragments <- answer
	close(s.fragments)
	close(s.done)
	return s
}

// Fragments yields decoded content fragments in order and is closed when the
// stream reaches a terminal state.
func (s *AnswerStream) Fragments() <-chan string {
	return s.fragments
}

// Wait blocks until the stream is terminal and returns its outcome.
func (s *AnswerStream) Wait() StreamResult {
	<-s.done
	return s.result
}

type deltaFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func decodeDelta(payload string) (string, error) {
	var frame deltaFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return "", err
	}
	if len(frame.Choices) == 0 {
		return "", nil
	}
	return frame.Choices[0].Delta.Content, nil
}

func excerpt(s string) string {
	if len(s) <= maxFrameLogBytes {
		return s
	}
	return s[:maxFrameLogBytes] + "..."
}

func (p *AnswerPipeline) produce(ctx context.Context, sessionID string, body io.ReadCloser, s *AnswerStream) {
	ctx, span := telemetry.Tracer().Start(ctx, "answer.stream")
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sessionID))
	var sb strings.Builder
	defer func() {
		_ = body.Close()
		s.result.Content = sb.String()
		span.SetAttributes(attribute.String("state", s.result.State.String()), attribute.Int("chars", sb.Len()))
		if s.result.State == StreamErrored {
			span.SetStatus(codes.Error, "stream failed")
		}
		span.End()
		close(s.fragments)
		close(s.done)
	}()

	terminate := func(state StreamState, err error) {
		s.result.State = state
		s.result.Err = err
		logger.Warn("answer stream ended early",
			zap.String("state", state.String()),
			zap.Int("partial_chars", sb.Len()),
			zap.Error(err))
	}
	finish := func() {
		s.result.State = StreamClosed
		if err := p.persist(ctx, sessionID, sb.String()); err != nil {
			logger.Error("persist streamed answer failed", zap.Error(err))
			s.result.Err = err
		}
	}

	scanner := sse.NewScanner(body)
	for scanner.Scan() {
		payload, ok := sse.Payload(scanner.Text())
		if !ok {
			continue
		}
		if payload == sse.DonePayload {
			finish()
			return
		}
		fragment, err := decodeDelta(payload)
		if err != nil {
			logger.Warn("skip malformed stream frame", zap.String("frame", excerpt(payload)), zap.Error(err))
			continue
		}
		if fragment == "" {
			continue
		}
		sb.WriteString(fragment)
		select {
		case s.fragments <- fragment:
		case <-ctx.Done():
			terminate(StreamCancelled, ctx.Err())
			return
		}
	}
	if err := ctx.Err(); err != nil {
		terminate(StreamCancelled, err)
		return
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			terminate(StreamCancelled, err)
			return
		}
		terminate(StreamErrored, fmt.Errorf("read answer stream: %w", err))
		return
	}
	finish()
}
