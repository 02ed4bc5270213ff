// Package extract turns uploaded document bytes into plain text.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

type Extractor func(data []byte) (string, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Extractor{}
	aliases    = map[string]string{
		"htm":      "html",
		"markdown": "md",
		"text":     "txt",
	}
)

func Register(fileType string, fn Extractor) {
	key := strings.ToLower(strings.TrimSpace(fileType))
	if key == "" || fn == nil {
		return
	}
	registryMu.Lock()
	registry[key] = fn
	registryMu.Unlock()
}

// FileType maps a file name to a supported type, or ErrUnsupportedFileType.
func FileType(name string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if alias, ok := aliases[ext]; ok {
		ext = alias
	}
	registryMu.RLock()
	_, ok := registry[ext]
	registryMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%q: %w", name, appErr.ErrUnsupportedFileType)
	}
	return ext, nil
}

// Text extracts normalized text. Blank output is reported as ErrNoText.
func Text(data []byte, fileType string) (text string, err error) {
	key := strings.ToLower(strings.TrimSpace(fileType))
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	registryMu.RLock()
	fn := registry[key]
	registryMu.RUnlock()
	if fn == nil {
		return "", fmt.Errorf("%q: %w", fileType, appErr.ErrUnsupportedFileType)
	}
	defer func() {
		// parsers of untrusted binary formats may panic on malformed input
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("extract %s: malformed document: %v", key, r)
		}
	}()
	raw, err := fn(data)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", key, err)
	}
	text = normalize(raw)
	if text == "" {
		return "", appErr.ErrNoText
	}
	return text, nil
}

// normalize collapses horizontal whitespace within lines and runs of blank lines.
func normalize(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
