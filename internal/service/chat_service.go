package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

const (
	ApologyAnswer = "Sorry, I couldn't generate a response right now. Please try again."

	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

type SessionStore interface {
	Create(ctx context.Context, s *model.ChatSession) error
	FindByUserAndDocument(ctx context.Context, userID, docID string) (*model.ChatSession, error)
	GetForUser(ctx context.Context, userID, sessionID string) (*model.ChatSession, error)
	ListByUser(ctx context.Context, userID string) ([]model.ChatSession, error)
}

type DocumentLookup interface {
	GetForUser(ctx context.Context, userID, docID string) (*model.Document, error)
}

type ChunkRetriever interface {
	Retrieve(ctx context.Context, userID, question, documentID string) ([]model.ScoredChunk, error)
}

type ChatService struct {
	sessions   SessionStore
	docs       DocumentLookup
	transcript *Transcript
	retriever  ChunkRetriever
	pipeline   *AnswerPipeline
	locks      *sessionLocks
}

func NewChatService(sessions SessionStore, docs DocumentLookup, transcript *Transcript, retriever ChunkRetriever, pipeline *AnswerPipeline) *ChatService {
	return &ChatService{
		sessions:   sessions,
		docs:       docs,
		transcript: transcript,
		retriever:  retriever,
		pipeline:   pipeline,
		locks:      newSessionLocks(),
	}
}

// OpenSession returns the user's session for documentID, creating it on first
// use. An empty documentID always starts a new cross-document session.
func (s *ChatService) OpenSession(ctx context.Context, userID, documentID string) (*model.ChatSession, error) {
	session := &model.ChatSession{
		ID:     newID(),
		UserID: userID,
		Ctime:  nowMillis(),
	}
	if documentID != "" {
		doc, err := s.docs.GetForUser(ctx, userID, documentID)
		if err != nil {
			return nil, err
		}
		existing, err := s.sessions.FindByUserAndDocument(ctx, userID, documentID)
		if err == nil {
			return existing, nil
		}
		if !appErr.IsNotFound(err) {
			return nil, err
		}
		session.DocumentID = doc.ID
		session.DocumentName = doc.Name
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if appErr.IsConflict(err) && documentID != "" {
			return s.sessions.FindByUserAndDocument(ctx, userID, documentID)
		}
		return nil, err
	}
	return session, nil
}

func (s *ChatService) ListSessions(ctx context.Context, userID string) ([]model.ChatSession, error) {
	return s.sessions.ListByUser(ctx, userID)
}

func (s *ChatService) Messages(ctx context.Context, userID, sessionID string, limit int) ([]model.Message, error) {
	if _, err := s.sessions.GetForUser(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	return s.transcript.Recent(ctx, sessionID, uint(limit))
}

type AskRequest struct {
	UserID     string
	SessionID  string
	DocumentID string
	Question   string
}

type AskResult struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

type StreamReply struct {
	SessionID string
	Stream    *AnswerStream
}

// turn is one question admitted under the session guard, with the user
// message already stored.
type turn struct {
	session *model.ChatSession
	req     *AnswerRequest
	release func()
}

func (s *ChatService) begin(ctx context.Context, in *AskRequest) (*turn, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, fmt.Errorf("question is required: %w", appErr.ErrInvalid)
	}
	var session *model.ChatSession
	var err error
	switch {
	case in.SessionID != "":
		session, err = s.sessions.GetForUser(ctx, in.UserID, in.SessionID)
	case in.DocumentID != "":
		session, err = s.OpenSession(ctx, in.UserID, in.DocumentID)
	default:
		err = fmt.Errorf("session_id or document_id is required: %w", appErr.ErrInvalid)
	}
	if err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("wait for session %s: %w", session.ID, err)
	}
	history, err := s.transcript.History(ctx, session.ID)
	if err != nil {
		release()
		return nil, fmt.Errorf("load history: %w", err)
	}
	if err := s.transcript.SaveMessage(ctx, &model.Message{
		ID:        newID(),
		SessionID: session.ID,
		Role:      model.RoleUser,
		Content:   question,
		Ctime:     nowMillis(),
	}); err != nil {
		release()
		return nil, fmt.Errorf("save question: %w", err)
	}
	return &turn{
		session: session,
		release: release,
		req: &AnswerRequest{
			SessionID: session.ID,
			Question:  question,
			History:   history,
			Scoped:    session.DocumentID != "",
		},
	}, nil
}

// apologize stores the fixed fallback answer. Missing credentials are still
// reported to the caller after the fallback is stored.
func (s *ChatService) apologize(ctx context.Context, sessionID string, cause error) error {
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sessionID))
	logger.Error("answer failed, using fallback", zap.Error(cause))
	if err := s.transcript.SaveMessage(ctx, &model.Message{
		ID:        newID(),
		SessionID: sessionID,
		Role:      model.RoleAI,
		Content:   ApologyAnswer,
		Ctime:     nowMillis(),
	}); err != nil {
		logger.Error("persist fallback answer failed", zap.Error(err))
	}
	if errors.Is(cause, appErr.ErrMissingCredential) {
		return cause
	}
	return nil
}

func isCancel(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// Ask answers a question synchronously.
func (s *ChatService) Ask(ctx context.Context, in *AskRequest) (*AskResult, error) {
	t, err := s.begin(ctx, in)
	if err != nil {
		return nil, err
	}
	defer t.release()
	result := &AskResult{SessionID: t.session.ID}

	chunks, err := s.retriever.Retrieve(ctx, in.UserID, t.req.Question, t.session.DocumentID)
	if err == nil {
		t.req.Chunks = chunks
		result.Answer, err = s.pipeline.Answer(ctx, t.req)
	}
	if err != nil {
		if isCancel(ctx, err) {
			return nil, err
		}
		result.Answer = ApologyAnswer
		return result, s.apologize(ctx, t.session.ID, err)
	}
	return result, nil
}

// AskStream answers a question as a stream. The session stays locked until
// the stream is terminal.
func (s *ChatService) AskStream(ctx context.Context, in *AskRequest) (*StreamReply, error) {
	t, err := s.begin(ctx, in)
	if err != nil {
		return nil, err
	}
	reply := &StreamReply{SessionID: t.session.ID}

	chunks, err := s.retriever.Retrieve(ctx, in.UserID, t.req.Question, t.session.DocumentID)
	var stream *AnswerStream
	if err == nil {
		t.req.Chunks = chunks
		stream, err = s.pipeline.Stream(ctx, t.req)
	}
	if err != nil {
		defer t.release()
		if isCancel(ctx, err) {
			return nil, err
		}
		if aerr := s.apologize(ctx, t.session.ID, err); aerr != nil {
			return nil, aerr
		}
		reply.Stream = newStaticStream(ApologyAnswer, StreamResult{State: StreamClosed, Content: ApologyAnswer})
		return reply, nil
	}
	go func() {
		stream.Wait()
		t.release()
	}()
	reply.Stream = stream
	return reply, nil
}
