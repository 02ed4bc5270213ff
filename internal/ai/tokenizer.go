package ai

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const maxWordPieceChars = 100

// wordPieceTokenizer reproduces the uncased BERT tokenizer used by
// sentence-transformers MiniLM checkpoints.
type wordPieceTokenizer struct {
	vocab  map[string]int64
	unkID  int64
	clsID  int64
	sepID  int64
	maxLen int
}

func loadVocab(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()
	return readVocab(f)
}

func readVocab(r io.Reader) (map[string]int64, error) {
	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(r)
	var id int64
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r")
		if _, ok := vocab[token]; !ok {
			vocab[token] = id
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return vocab, nil
}

func newWordPieceTokenizer(vocab map[string]int64, maxLen int) (*wordPieceTokenizer, error) {
	t := &wordPieceTokenizer{vocab: vocab, maxLen: maxLen}
	for token, dst := range map[string]*int64{"[UNK]": &t.unkID, "[CLS]": &t.clsID, "[SEP]": &t.sepID} {
		id, ok := vocab[token]
		if !ok {
			return nil, fmt.Errorf("vocab is missing %s", token)
		}
		*dst = id
	}
	if t.maxLen < 3 {
		t.maxLen = 256
	}
	return t, nil
}

// Encode returns input ids framed by [CLS] and [SEP], truncated to maxLen.
func (t *wordPieceTokenizer) Encode(text string) []int64 {
	ids := []int64{t.clsID}
	limit := t.maxLen - 1
	for _, word := range basicTokenize(text) {
		for _, id := range t.wordPiece(word) {
			if len(ids) >= limit {
				return append(ids, t.sepID)
			}
			ids = append(ids, id)
		}
	}
	return append(ids, t.sepID)
}

func (t *wordPieceTokenizer) wordPiece(word string) []int64 {
	if utf8.RuneCountInString(word) > maxWordPieceChars {
		return []int64{t.unkID}
	}
	var ids []int64
	start := 0
	for start < len(word) {
		end := len(word)
		found := int64(-1)
		for end > start {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				found = id
				break
			}
			_, size := utf8.DecodeLastRuneInString(word[start:end])
			end -= size
		}
		if found < 0 {
			return []int64{t.unkID}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}

// basicTokenize lowercases, strips accents, and splits on whitespace,
// punctuation and CJK ideographs.
func basicTokenize(text string) []string {
	text = norm.NFD.String(strings.ToLower(text))
	var sb strings.Builder
	for _, r := range text {
		switch {
		case r == 0 || r == utf8.RuneError:
			continue
		case unicode.Is(unicode.Mn, r):
			continue
		case r == '\t' || r == '\n' || r == '\r' || unicode.IsSpace(r):
			sb.WriteRune(' ')
		case unicode.IsControl(r):
			continue
		case isCJK(r) || isBertPunct(r):
			sb.WriteRune(' ')
			sb.WriteRune(r)
			sb.WriteRune(' ')
		default:
			sb.WriteRune(r)
		}
	}
	return strings.Fields(sb.String())
}

func isBertPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
