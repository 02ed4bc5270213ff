package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

const defaultLocalDir = "data/files"

type localConfig struct {
	Dir     string `json:"dir"`
	BaseURL string `json:"base_url"`
}

type localStore struct {
	dir     string
	baseURL string
	signer  *signer
}

func init() {
	Register("local", createLocalStore)
}

func createLocalStore(args interface{}, opts Options) (Store, error) {
	config := &localConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Dir == "" {
		config.Dir = defaultLocalDir
	}
	if opts.SigningSecret == "" {
		return nil, fmt.Errorf("local store requires a signing secret")
	}
	return &localStore{
		dir:     config.Dir,
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		signer:  newSigner(opts.SigningSecret),
	}, nil
}

func (s *localStore) Type() string {
	return "local"
}

func (s *localStore) path(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filepath.FromSlash(cleaned)), nil
}

func (s *localStore) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_ = ctx
	_ = contentType
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("short write: %d of %d bytes", n, size)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p)
}

func (s *localStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	_ = ctx
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, appErr.ErrNotFound)
	}
	return f, err
}

func (s *localStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *localStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	_ = ctx
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	expires := s.signer.now().Add(ttl).Unix()
	segments := strings.Split(cleaned, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.signer.sign(cleaned, expires))
	return s.baseURL + "/api/v1/files/" + strings.Join(segments, "/") + "?" + q.Encode(), nil
}

func (s *localStore) Verify(key, expires, sig string) error {
	cleaned, err := CleanKey(key)
	if err != nil {
		return fmt.Errorf("%s: %w", err.Error(), appErr.ErrForbidden)
	}
	return s.signer.verify(cleaned, expires, sig)
}
