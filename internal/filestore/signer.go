package filestore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

type signer struct {
	secret []byte
	now    func() time.Time
}

func newSigner(secret string) *signer {
	return &signer{secret: []byte(secret), now: time.Now}
}

func (s *signer) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = fmt.Fprintf(mac, "%s\n%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *signer) verify(key, expires, sig string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expires: %w", appErr.ErrForbidden)
	}
	if s.now().Unix() > exp {
		return fmt.Errorf("link expired: %w", appErr.ErrForbidden)
	}
	want := s.sign(key, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return fmt.Errorf("bad signature: %w", appErr.ErrForbidden)
	}
	return nil
}
