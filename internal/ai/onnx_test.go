package ai

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// hashEncoder derives a deterministic hidden state from the token ids.
type hashEncoder struct {
	dim int
}

func (h hashEncoder) dimension() int {
	return h.dim
}

func (h hashEncoder) encode(ids, mask, typeIDs []int64) ([]float32, error) {
	out := make([]float32, len(ids)*h.dim)
	for t, id := range ids {
		for i := 0; i < h.dim; i++ {
			out[t*h.dim+i] = float32((id+1)*int64(i+1)%7) - 3
		}
	}
	return out, nil
}

func newFakeOnnxEmbedder(t *testing.T, loads *int32, failFirst bool) *onnxEmbedder {
	t.Helper()
	vocab, err := readVocab(strings.NewReader(testVocab))
	require.NoError(t, err)
	tok, err := newWordPieceTokenizer(vocab, 32)
	require.NoError(t, err)
	return &onnxEmbedder{
		model: "fake",
		loader: func() (*onnxModel, error) {
			n := atomic.AddInt32(loads, 1)
			if failFirst && n == 1 {
				return nil, errors.New("boom")
			}
			return &onnxModel{tokenizer: tok, encoder: hashEncoder{dim: 8}}, nil
		},
	}
}

func TestOnnxEmbedderLoadsOnceUnderConcurrency(t *testing.T) {
	var loads int32
	e := newFakeOnnxEmbedder(t, &loads, false)
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Embed(context.Background(), "hello world", TaskTypeQuery)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestOnnxEmbedderRetriesFailedLoad(t *testing.T) {
	var loads int32
	e := newFakeOnnxEmbedder(t, &loads, true)
	_, err := e.Embed(context.Background(), "hello", TaskTypeQuery)
	require.Error(t, err)
	_, err = e.Embed(context.Background(), "hello", TaskTypeQuery)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&loads))
}

func TestOnnxEmbedderDeterministicUnitVectors(t *testing.T) {
	var loads int32
	e := newFakeOnnxEmbedder(t, &loads, false)
	a, err := e.Embed(context.Background(), "Hello, world!", TaskTypeDocument)
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "Hello, world!", TaskTypeDocument)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 8)

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestMeanPoolHonoursMask(t *testing.T) {
	hidden := []float32{
		1, 2,
		3, 4,
		100, 100,
	}
	require.Equal(t, []float32{2, 3}, meanPool(hidden, []int64{1, 1, 0}, 2))
	require.Equal(t, []float32{0, 0}, meanPool(hidden, []int64{0, 0, 0}, 2))
}

func TestNormalizeL2(t *testing.T) {
	require.Equal(t, []float32{0.6, 0.8}, normalizeL2([]float32{3, 4}))
	require.Equal(t, []float32{0, 0}, normalizeL2([]float32{0, 0}))
}

func TestCreateOnnxEmbedderValidatesConfig(t *testing.T) {
	_, err := NewEmbedder("onnx", "", map[string]interface{}{"model_path": "m.onnx"})
	require.Error(t, err)
	e, err := NewEmbedder("onnx", "", map[string]interface{}{"model_path": "m.onnx", "vocab_path": "v.txt"})
	require.NoError(t, err)
	require.Equal(t, "onnx:all-MiniLM-L6-v2", e.ModelName())
}
