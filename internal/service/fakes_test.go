package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/repo"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	tasks []string
	err   error

	// failOn makes Embed fail for texts containing the marker.
	failOn string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	f.mu.Lock()
	f.tasks = append(f.tasks, taskType)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("inference failed")
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) ModelName() string {
	return "fake"
}

type fakeSearcher struct {
	hits  []model.ScoredChunk
	err   error
	query model.ChunkQuery
}

func (f *fakeSearcher) Search(ctx context.Context, q model.ChunkQuery) ([]model.ScoredChunk, error) {
	f.query = q
	return f.hits, f.err
}

type fakeChat struct {
	mu       sync.Mutex
	requests []*ai.ChatRequest
	out      string
	body     string
	reader   io.ReadCloser
	err      error
}

func (f *fakeChat) record(req *ai.ChatRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeChat) Complete(ctx context.Context, req *ai.ChatRequest) (string, error) {
	f.record(req)
	return f.out, f.err
}

func (f *fakeChat) Stream(ctx context.Context, req *ai.ChatRequest) (io.ReadCloser, error) {
	f.record(req)
	if f.err != nil {
		return nil, f.err
	}
	if f.reader != nil {
		return f.reader, nil
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

// trackingBody records Close and can fail after its content is consumed.
type trackingBody struct {
	r      io.Reader
	mu     sync.Mutex
	closed bool
}

func newTrackingBody(content string, tailErr error) *trackingBody {
	var r io.Reader = strings.NewReader(content)
	if tailErr != nil {
		r = io.MultiReader(r, &errReader{err: tailErr})
	}
	return &trackingBody{r: r}
}

func (b *trackingBody) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func (b *trackingBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *trackingBody) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type errReader struct {
	err error
}

func (e *errReader) Read(p []byte) (int, error) {
	return 0, e.err
}

type memMessages struct {
	mu      sync.Mutex
	items   []model.Message
	failAI  bool
	listErr error
}

func (m *memMessages) Create(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAI && msg.Role == model.RoleAI {
		return errors.New("write failed")
	}
	m.items = append(m.items, *msg)
	return nil
}

func (m *memMessages) SaveMessage(ctx context.Context, msg *model.Message) error {
	return m.Create(ctx, msg)
}

func (m *memMessages) ListRecent(ctx context.Context, sessionID string, limit uint) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]model.Message, 0)
	for _, item := range m.items {
		if item.SessionID == sessionID {
			out = append(out, item)
		}
	}
	if limit > 0 && len(out) > int(limit) {
		out = out[len(out)-int(limit):]
	}
	return out, nil
}

func (m *memMessages) all() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Message, len(m.items))
	copy(out, m.items)
	return out
}

type memChunks struct {
	mu      sync.Mutex
	items   map[string]map[int]model.Chunk
	failOrd map[int]bool
}

func newMemChunks() *memChunks {
	return &memChunks{items: map[string]map[int]model.Chunk{}, failOrd: map[int]bool{}}
}

func (m *memChunks) Insert(ctx context.Context, chunk *model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOrd[chunk.Ordinal] {
		return fmt.Errorf("insert ordinal %d failed", chunk.Ordinal)
	}
	if m.items[chunk.DocumentID] == nil {
		m.items[chunk.DocumentID] = map[int]model.Chunk{}
	}
	if _, ok := m.items[chunk.DocumentID][chunk.Ordinal]; ok {
		return nil
	}
	m.items[chunk.DocumentID][chunk.Ordinal] = *chunk
	return nil
}

func (m *memChunks) ListOrdinals(ctx context.Context, docID string) (map[int]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int]struct{}{}
	for ord := range m.items[docID] {
		out[ord] = struct{}{}
	}
	return out, nil
}

func (m *memChunks) ordinals(docID string) []int {
	set, _ := m.ListOrdinals(context.Background(), docID)
	out := make([]int, 0, len(set))
	for ord := range set {
		out = append(out, ord)
	}
	sort.Ints(out)
	return out
}

type memDocs struct {
	mu       sync.Mutex
	items    map[string]*model.Document
	statuses []repo.IndexStatus
}

func newMemDocs() *memDocs {
	return &memDocs{items: map[string]*model.Document{}}
}

func (m *memDocs) Create(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	m.items[doc.ID] = &cp
	return nil
}

func (m *memDocs) Get(ctx context.Context, docID string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.items[docID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *memDocs) GetForUser(ctx context.Context, userID, docID string) (*model.Document, error) {
	doc, err := m.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, appErr.ErrNotFound
	}
	return doc, nil
}

func (m *memDocs) ListByUser(ctx context.Context, userID string, limit, offset uint) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Document, 0)
	for _, doc := range m.items {
		if doc.UserID == userID {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (m *memDocs) ListRepairable(ctx context.Context, states []model.IndexState, limit uint) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Document, 0)
	for _, doc := range m.items {
		if doc.ExtractedText == "" {
			continue
		}
		for _, s := range states {
			if doc.IndexState == s {
				out = append(out, *doc)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mtime != out[j].Mtime {
			return out[i].Mtime < out[j].Mtime
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && uint(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memDocs) SetExtractedText(ctx context.Context, docID, text string, mtime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.items[docID]
	if !ok {
		return appErr.ErrNotFound
	}
	doc.ExtractedText = text
	return nil
}

func (m *memDocs) SetIndexStatus(ctx context.Context, docID string, status repo.IndexStatus, mtime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	doc, ok := m.items[docID]
	if !ok {
		return nil
	}
	doc.IndexState = status.State
	doc.ChunkTotal = status.Total
	doc.ChunkFailed = status.Failed
	doc.IndexError = status.Error
	doc.Mtime = mtime
	return nil
}

func (m *memDocs) Delete(ctx context.Context, userID, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.items[docID]
	if !ok || doc.UserID != userID {
		return appErr.ErrNotFound
	}
	delete(m.items, docID)
	return nil
}

func (m *memDocs) states() []model.IndexState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.IndexState, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s.State)
	}
	return out
}

type memBlobs struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{items: map[string][]byte{}}
}

func (m *memBlobs) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = data
	return nil
}

func (m *memBlobs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.items[key]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobs) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memBlobs) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://blob.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

func (m *memBlobs) Type() string {
	return "mem"
}

func (m *memBlobs) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.items))
	for k := range m.items {
		out = append(out, k)
	}
	return out
}

type memSessions struct {
	mu          sync.Mutex
	items       []model.ChatSession
	conflictOn  bool
	findMissing int
}

func (m *memSessions) Create(ctx context.Context, s *model.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflictOn {
		return appErr.ErrConflict
	}
	m.items = append(m.items, *s)
	return nil
}

func (m *memSessions) FindByUserAndDocument(ctx context.Context, userID, docID string) (*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findMissing > 0 {
		m.findMissing--
		return nil, appErr.ErrNotFound
	}
	for i := len(m.items) - 1; i >= 0; i-- {
		s := m.items[i]
		if s.UserID == userID && s.DocumentID == docID {
			return &s, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (m *memSessions) GetForUser(ctx context.Context, userID, sessionID string) (*model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.items {
		if s.ID == sessionID && s.UserID == userID {
			cp := s
			return &cp, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (m *memSessions) ListByUser(ctx context.Context, userID string) ([]model.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ChatSession, 0)
	for _, s := range m.items {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func frame(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

func collect(s *AnswerStream) []string {
	out := make([]string, 0)
	for f := range s.Fragments() {
		out = append(out, f)
	}
	return out
}
