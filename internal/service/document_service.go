package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/extract"
	"github.com/xxxsen/docchat/internal/filestore"
	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/repo"
)

const repairBatchSize = 100

type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, docID string) (*model.Document, error)
	GetForUser(ctx context.Context, userID, docID string) (*model.Document, error)
	ListByUser(ctx context.Context, userID string, limit, offset uint) ([]model.Document, error)
	ListRepairable(ctx context.Context, states []model.IndexState, limit uint) ([]model.Document, error)
	SetExtractedText(ctx context.Context, docID, text string, mtime int64) error
	SetIndexStatus(ctx context.Context, docID string, status repo.IndexStatus, mtime int64) error
	Delete(ctx context.Context, userID, docID string) error
}

type IndexEnqueuer interface {
	EnqueueIndex(ctx context.Context, documentID string) error
}

type DocumentService struct {
	docs     DocumentStore
	store    filestore.Store
	indexer  *Indexer
	queue    IndexEnqueuer
	urlTTL   time.Duration
	maxBytes int64
}

type DocumentServiceConfig struct {
	SignedURLTTL time.Duration
	MaxBytes     int64
}

// NewDocumentService wires document handling. A nil queue processes uploads
// inline.
func NewDocumentService(docs DocumentStore, store filestore.Store, indexer *Indexer, queue IndexEnqueuer, cfg DocumentServiceConfig) *DocumentService {
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 180 * time.Second
	}
	return &DocumentService{
		docs:     docs,
		store:    store,
		indexer:  indexer,
		queue:    queue,
		urlTTL:   cfg.SignedURLTTL,
		maxBytes: cfg.MaxBytes,
	}
}

func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// Upload stores the blob under <userID>/<unixMillis>_<name>, records the
// document and schedules processing. When processing runs inline its error is
// returned together with the stored document.
func (s *DocumentService) Upload(ctx context.Context, userID, name string, r io.Reader, size int64) (*model.Document, error) {
	name = sanitizeFileName(name)
	if name == "" {
		return nil, fmt.Errorf("file name is required: %w", appErr.ErrInvalid)
	}
	fileType, err := extract.FileType(name)
	if err != nil {
		return nil, err
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, fmt.Errorf("file exceeds %d bytes: %w", s.maxBytes, appErr.ErrInvalid)
	}
	reader := r
	if s.maxBytes > 0 {
		reader = io.LimitReader(r, s.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("file exceeds %d bytes: %w", s.maxBytes, appErr.ErrInvalid)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file is empty: %w", appErr.ErrInvalid)
	}

	now := nowMillis()
	key := fmt.Sprintf("%s/%d_%s", userID, now, name)
	if err := s.store.Save(ctx, key, bytes.NewReader(data), int64(len(data)), mime.TypeByExtension(filepath.Ext(name))); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	doc := &model.Document{
		ID:          newID(),
		UserID:      userID,
		Name:        name,
		StoragePath: key,
		FileType:    fileType,
		IndexState:  model.IndexStatePending,
		Ctime:       now,
		Mtime:       now,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if derr := s.store.Delete(ctx, key); derr != nil {
			logutil.GetLogger(ctx).Warn("remove orphan blob failed", zap.String("key", key), zap.Error(derr))
		}
		return nil, err
	}
	logutil.GetLogger(ctx).Info("document uploaded",
		zap.String("document_id", doc.ID),
		zap.String("file_type", fileType),
		zap.Int("bytes", len(data)))

	if s.queue != nil {
		err := s.queue.EnqueueIndex(ctx, doc.ID)
		if err == nil {
			return doc, nil
		}
		logutil.GetLogger(ctx).Warn("enqueue failed, processing inline", zap.String("document_id", doc.ID), zap.Error(err))
	}
	perr := s.Process(ctx, doc.ID)
	if fresh, err := s.docs.Get(ctx, doc.ID); err == nil {
		doc = fresh
	}
	return doc, perr
}

// Process extracts the document text and indexes it.
func (s *DocumentService) Process(ctx context.Context, documentID string) error {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return err
	}
	_, err = s.process(ctx, doc)
	return err
}

func (s *DocumentService) process(ctx context.Context, doc *model.Document) (*IndexResult, error) {
	text, err := s.extractText(ctx, doc)
	if err != nil {
		if serr := s.docs.SetIndexStatus(ctx, doc.ID, repo.IndexStatus{
			State: model.IndexStateFailed,
			Error: err.Error(),
		}, nowMillis()); serr != nil {
			logutil.GetLogger(ctx).Error("record extraction failure", zap.String("document_id", doc.ID), zap.Error(serr))
		}
		return nil, err
	}
	if err := s.docs.SetExtractedText(ctx, doc.ID, text, nowMillis()); err != nil {
		return nil, fmt.Errorf("save extracted text: %w", err)
	}
	return s.indexer.Index(ctx, doc.ID, text)
}

func (s *DocumentService) extractText(ctx context.Context, doc *model.Document) (string, error) {
	rc, err := s.store.Open(ctx, doc.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open blob: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read blob: %w", err)
	}
	return extract.Text(data, doc.FileType)
}

func (s *DocumentService) List(ctx context.Context, userID string, limit, offset uint) ([]model.Document, error) {
	return s.docs.ListByUser(ctx, userID, limit, offset)
}

func (s *DocumentService) Get(ctx context.Context, userID, documentID string) (*model.Document, error) {
	return s.docs.GetForUser(ctx, userID, documentID)
}

// Delete removes the document row, which cascades to its chunks and sessions,
// then the blob. A failed blob removal is logged only.
func (s *DocumentService) Delete(ctx context.Context, userID, documentID string) error {
	doc, err := s.docs.GetForUser(ctx, userID, documentID)
	if err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, userID, documentID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, doc.StoragePath); err != nil {
		logutil.GetLogger(ctx).Warn("delete blob failed",
			zap.String("document_id", documentID),
			zap.String("key", doc.StoragePath),
			zap.Error(err))
	}
	return nil
}

func (s *DocumentService) SignedURL(ctx context.Context, userID, documentID string) (string, error) {
	doc, err := s.docs.GetForUser(ctx, userID, documentID)
	if err != nil {
		return "", err
	}
	return s.store.SignedURL(ctx, doc.StoragePath, s.urlTTL)
}

// Repair backfills missing chunks. A document without extracted text is
// processed from its blob again.
func (s *DocumentService) Repair(ctx context.Context, documentID string) (*IndexResult, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.ExtractedText == "" {
		return s.process(ctx, doc)
	}
	return s.indexer.Repair(ctx, documentID, doc.ExtractedText)
}

func (s *DocumentService) RepairForUser(ctx context.Context, userID, documentID string) (*IndexResult, error) {
	if _, err := s.docs.GetForUser(ctx, userID, documentID); err != nil {
		return nil, err
	}
	return s.Repair(ctx, documentID)
}

type RepairSummary struct {
	Scanned  int
	Repaired int
	Failed   int
}

// RepairAll repairs partial and failed documents that have extracted text.
func (s *DocumentService) RepairAll(ctx context.Context) (*RepairSummary, error) {
	docs, err := s.docs.ListRepairable(ctx, []model.IndexState{model.IndexStatePartial, model.IndexStateFailed}, repairBatchSize)
	if err != nil {
		return nil, err
	}
	summary := &RepairSummary{}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Scanned++
		res, err := s.indexer.Repair(ctx, doc.ID, doc.ExtractedText)
		if err != nil || res.Failed > 0 {
			summary.Failed++
			logutil.GetLogger(ctx).Warn("document repair incomplete", zap.String("document_id", doc.ID), zap.Error(err))
			continue
		}
		summary.Repaired++
	}
	return summary, nil
}

// IsExtractionError reports whether err means the upload has no usable text.
func IsExtractionError(err error) bool {
	return errors.Is(err, appErr.ErrNoText) || errors.Is(err, appErr.ErrUnsupportedFileType)
}
