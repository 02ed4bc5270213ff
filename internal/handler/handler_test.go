package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/filestore"
	"github.com/xxxsen/docchat/internal/middleware"
	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/errcode"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/jwt"
	"github.com/xxxsen/docchat/internal/service"
)

var testSecret = []byte("test-secret")

type fakeDocs struct {
	uploadErr  error
	uploadDoc  *model.Document
	gotName    string
	gotContent string
	getErr     error
}

func (f *fakeDocs) Upload(ctx context.Context, userID, name string, r io.Reader, size int64) (*model.Document, error) {
	data, _ := io.ReadAll(r)
	f.gotName = name
	f.gotContent = string(data)
	return f.uploadDoc, f.uploadErr
}

func (f *fakeDocs) List(ctx context.Context, userID string, limit, offset uint) ([]model.Document, error) {
	return []model.Document{{ID: "d1", UserID: userID, Name: "a.txt", IndexState: model.IndexStateIndexed}}, nil
}

func (f *fakeDocs) Get(ctx context.Context, userID, documentID string) (*model.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &model.Document{ID: documentID, UserID: userID}, nil
}

func (f *fakeDocs) Delete(ctx context.Context, userID, documentID string) error {
	return nil
}

func (f *fakeDocs) SignedURL(ctx context.Context, userID, documentID string) (string, error) {
	return "https://blob.test/" + documentID, nil
}

func (f *fakeDocs) RepairForUser(ctx context.Context, userID, documentID string) (*service.IndexResult, error) {
	return &service.IndexResult{Total: 3, Inserted: 1, Skipped: 2}, nil
}

type sessionStore struct {
	mu    sync.Mutex
	items []model.ChatSession
}

func (s *sessionStore) Create(ctx context.Context, session *model.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, *session)
	return nil
}

func (s *sessionStore) FindByUserAndDocument(ctx context.Context, userID, docID string) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.UserID == userID && item.DocumentID == docID {
			cp := item
			return &cp, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (s *sessionStore) GetForUser(ctx context.Context, userID, sessionID string) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.UserID == userID && item.ID == sessionID {
			cp := item
			return &cp, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (s *sessionStore) ListByUser(ctx context.Context, userID string) ([]model.ChatSession, error) {
	return nil, nil
}

type docLookup struct{}

func (docLookup) GetForUser(ctx context.Context, userID, docID string) (*model.Document, error) {
	if userID != "u1" || docID != "d1" {
		return nil, appErr.ErrNotFound
	}
	return &model.Document{ID: "d1", UserID: "u1", Name: "guide.pdf"}, nil
}

type messageStore struct {
	mu    sync.Mutex
	items []model.Message
}

func (m *messageStore) Create(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, *msg)
	return nil
}

func (m *messageStore) ListRecent(ctx context.Context, sessionID string, limit uint) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Message, 0)
	for _, item := range m.items {
		if item.SessionID == sessionID {
			out = append(out, item)
		}
	}
	return out, nil
}

type fixedRetriever struct{}

func (fixedRetriever) Retrieve(ctx context.Context, userID, question, documentID string) ([]model.ScoredChunk, error) {
	return []model.ScoredChunk{{DocumentID: "d1", Content: "Paris is the capital.", Similarity: 0.8}}, nil
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}

type scriptedChat struct {
	answer string
	body   func() io.Reader
}

func (s *scriptedChat) Complete(ctx context.Context, req *ai.ChatRequest) (string, error) {
	return s.answer, nil
}

func (s *scriptedChat) Stream(ctx context.Context, req *ai.ChatRequest) (io.ReadCloser, error) {
	return io.NopCloser(s.body()), nil
}

func sseFrame(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

type testEnv struct {
	handler  http.Handler
	docs     *fakeDocs
	messages *messageStore
	store    filestore.Store
}

func setupRouter(t *testing.T, chat ai.IChat) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	docs := &fakeDocs{}
	messages := &messageStore{}
	transcript := service.NewTranscript(messages, nil, 10)
	chatService := service.NewChatService(&sessionStore{}, docLookup{}, transcript, fixedRetriever{}, service.NewAnswerPipeline(chat, transcript))

	store, err := filestore.New(config.FileStoreConfig{
		Type:          "local",
		Data:          map[string]interface{}{"dir": t.TempDir(), "base_url": "http://files.test"},
		SigningSecret: "sign-secret",
	})
	require.NoError(t, err)

	deps := RouterDeps{
		Documents: NewDocumentHandler(docs, 1024),
		Sessions:  NewSessionHandler(chatService),
		Chat:      NewChatHandler(chatService),
		Files:     NewFileHandler(store),
		JWTSecret: testSecret,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)
	return &testEnv{handler: engine, docs: docs, messages: messages, store: store}
}

func authHeader(t *testing.T) string {
	token, err := jwt.GenerateToken("u1", "", testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", authHeader(t))
	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, req)
	return resp
}

func decodeEnvelope(t *testing.T, resp *httptest.ResponseRecorder) envelope {
	var out envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func multipartBody(t *testing.T, name, content string) (*bytes.Buffer, string) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestRoutesRequireToken(t *testing.T) {
	env := setupRouter(t, &scriptedChat{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	resp := httptest.NewRecorder()
	env.handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, errcode.ErrUnauthorized, decodeEnvelope(t, resp).Code)
}

func TestDocumentUpload(t *testing.T) {
	env := setupRouter(t, &scriptedChat{})
	env.docs.uploadDoc = &model.Document{ID: "d1", Name: "notes.txt", IndexState: model.IndexStateIndexed}

	body, ct := multipartBody(t, "notes.txt", "hello")
	resp := env.do(t, http.MethodPost, "/api/v1/documents", body, ct)
	out := decodeEnvelope(t, resp)
	require.Equal(t, 0, out.Code)
	require.Equal(t, "notes.txt", env.docs.gotName)
	require.Equal(t, "hello", env.docs.gotContent)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Data, &doc))
	require.Equal(t, "indexed", doc["state"])
	require.Equal(t, "d1", doc["id"])
}

func TestDocumentUploadErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  *model.Document
		err  error
		code int
	}{
		{name: "unsupported", err: fmt.Errorf("x: %w", appErr.ErrUnsupportedFileType), code: errcode.ErrInvalidFile},
		{name: "no_text", doc: &model.Document{ID: "d1"}, err: appErr.ErrNoText, code: errcode.ErrExtractFailed},
		{name: "index_failed", doc: &model.Document{ID: "d1", IndexState: model.IndexStateFailed}, err: errors.New("embed"), code: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := setupRouter(t, &scriptedChat{})
			env.docs.uploadDoc = tc.doc
			env.docs.uploadErr = tc.err
			body, ct := multipartBody(t, "a.txt", "x")
			resp := env.do(t, http.MethodPost, "/api/v1/documents", body, ct)
			require.Equal(t, tc.code, decodeEnvelope(t, resp).Code)
		})
	}

	env := setupRouter(t, &scriptedChat{})
	resp := env.do(t, http.MethodPost, "/api/v1/documents", strings.NewReader("{}"), "application/json")
	require.Equal(t, errcode.ErrInvalidFile, decodeEnvelope(t, resp).Code)

	body, ct := multipartBody(t, "big.txt", strings.Repeat("x", 200*1024))
	resp = env.do(t, http.MethodPost, "/api/v1/documents", body, ct)
	out := decodeEnvelope(t, resp)
	require.Equal(t, errcode.ErrInvalidFile, out.Code)
}

func TestDocumentGetNotFound(t *testing.T) {
	env := setupRouter(t, &scriptedChat{})
	env.docs.getErr = appErr.ErrNotFound
	resp := env.do(t, http.MethodGet, "/api/v1/documents/nope", nil, "")
	require.Equal(t, errcode.ErrNotFound, decodeEnvelope(t, resp).Code)
}

func TestDocumentRepair(t *testing.T) {
	env := setupRouter(t, &scriptedChat{})
	resp := env.do(t, http.MethodPost, "/api/v1/documents/d1/repair", nil, "")
	out := decodeEnvelope(t, resp)
	require.Equal(t, 0, out.Code)
	require.JSONEq(t, `{"state":"indexed","total":3,"inserted":1,"skipped":2,"failed":0}`, string(out.Data))
}

func TestChatAsk(t *testing.T) {
	env := setupRouter(t, &scriptedChat{answer: "It is Paris."})
	resp := env.do(t, http.MethodPost, "/api/v1/chat/ask", strings.NewReader(`{"document_id":"d1","question":"Capital?"}`), "application/json")
	out := decodeEnvelope(t, resp)
	require.Equal(t, 0, out.Code)
	var res service.AskResult
	require.NoError(t, json.Unmarshal(out.Data, &res))
	require.Equal(t, "It is Paris.", res.Answer)
	require.NotEmpty(t, res.SessionID)

	resp = env.do(t, http.MethodGet, "/api/v1/sessions/"+res.SessionID+"/messages", nil, "")
	out = decodeEnvelope(t, resp)
	var msgs []model.Message
	require.NoError(t, json.Unmarshal(out.Data, &msgs))
	require.Len(t, msgs, 2)

	resp = env.do(t, http.MethodPost, "/api/v1/chat/ask", strings.NewReader(`{"document_id":"d1","question":"  "}`), "application/json")
	require.Equal(t, errcode.ErrInvalid, decodeEnvelope(t, resp).Code)

	resp = env.do(t, http.MethodPost, "/api/v1/chat/ask", strings.NewReader(`{"document_id":"other","question":"q"}`), "application/json")
	require.Equal(t, errcode.ErrNotFound, decodeEnvelope(t, resp).Code)
}

func TestChatStreamWritesFrames(t *testing.T) {
	chat := &scriptedChat{body: func() io.Reader {
		return strings.NewReader(sseFrame("Hel") + sseFrame("lo") + "data: [DONE]\n\n")
	}}
	env := setupRouter(t, chat)
	resp := env.do(t, http.MethodPost, "/api/v1/chat/stream", strings.NewReader(`{"document_id":"d1","question":"Hi"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))
	require.NotEmpty(t, resp.Header().Get("X-Session-Id"))
	require.Equal(t, "data: {\"content\":\"Hel\"}\n\ndata: {\"content\":\"lo\"}\n\ndata: [DONE]\n\n", resp.Body.String())

	msgs := env.messages.items
	require.Len(t, msgs, 2)
	require.Equal(t, "Hello", msgs[1].Content)
}

func TestChatStreamTransportFailure(t *testing.T) {
	chat := &scriptedChat{body: func() io.Reader {
		return io.MultiReader(strings.NewReader(sseFrame("Par")), failingReader{})
	}}
	env := setupRouter(t, chat)
	resp := env.do(t, http.MethodPost, "/api/v1/chat/stream", strings.NewReader(`{"document_id":"d1","question":"Hi"}`), "application/json")
	require.Equal(t, "data: {\"content\":\"Par\"}\n\ndata: {\"error\":\"answer stream interrupted\"}\n\n", resp.Body.String())
	require.NotContains(t, resp.Body.String(), "[DONE]")
	require.Len(t, env.messages.items, 1)
}

func TestSessionOpen(t *testing.T) {
	env := setupRouter(t, &scriptedChat{})
	resp := env.do(t, http.MethodPost, "/api/v1/sessions", strings.NewReader(`{"document_id":"d1"}`), "application/json")
	out := decodeEnvelope(t, resp)
	require.Equal(t, 0, out.Code)
	var first model.ChatSession
	require.NoError(t, json.Unmarshal(out.Data, &first))
	require.Equal(t, "guide.pdf", first.DocumentName)

	resp = env.do(t, http.MethodPost, "/api/v1/sessions", strings.NewReader(`{"document_id":"d1"}`), "application/json")
	var second model.ChatSession
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &second))
	require.Equal(t, first.ID, second.ID)

	resp = env.do(t, http.MethodGet, "/api/v1/sessions/x/messages?limit=abc", nil, "")
	require.Equal(t, errcode.ErrInvalid, decodeEnvelope(t, resp).Code)
}

func TestFileSignedURL(t *testing.T) {
	env := setupRouter(t, &scriptedChat{})
	ctx := context.Background()
	require.NoError(t, env.store.Save(ctx, "u1/1_a.txt", strings.NewReader("blob"), 4, "text/plain"))
	link, err := env.store.SignedURL(ctx, "u1/1_a.txt", time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)

	resp := httptest.NewRecorder()
	env.handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "blob", resp.Body.String())

	q := u.Query()
	q.Set("sig", strings.Repeat("0", 64))
	u.RawQuery = q.Encode()
	resp = httptest.NewRecorder()
	env.handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	require.Equal(t, http.StatusForbidden, resp.Code)
}

func TestErrorCodeMapping(t *testing.T) {
	code, _ := errorCode(fmt.Errorf("wrap: %w", appErr.ErrMissingCredential))
	require.Equal(t, errcode.ErrAIUnavailable, code)
	code, msg := errorCode(fmt.Errorf("wait for session s1: %w", appErr.ErrSessionBusy))
	require.Equal(t, errcode.ErrSessionBusy, code)
	require.Equal(t, "session is busy", msg)
	code, _ = errorCode(errors.New("boom"))
	require.Equal(t, errcode.ErrInternal, code)
	require.Equal(t, "20MB", formatUploadLimit(20<<20))
}
