package ai

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultOnnxDimension = 384
	defaultOnnxMaxSeqLen = 256
)

type onnxConfig struct {
	ModelPath   string `json:"model_path"`
	VocabPath   string `json:"vocab_path"`
	LibraryPath string `json:"library_path"`
	MaxSeqLen   int    `json:"max_seq_len"`
	Threads     int    `json:"threads"`
}

// encoder runs the transformer and returns the flattened last hidden state
// ([seq*dim]) for a single sequence.
type encoder interface {
	encode(ids, mask, typeIDs []int64) ([]float32, error)
	dimension() int
}

type onnxModel struct {
	tokenizer *wordPieceTokenizer
	encoder   encoder
}

// onnxEmbedder computes sentence embeddings in-process. The model is loaded on
// first use; concurrent first callers share one load and later callers take the
// lock-free path. A failed load is not cached, so a later call tries again.
type onnxEmbedder struct {
	model  string
	loader func() (*onnxModel, error)
	mu     sync.Mutex
	state  atomic.Pointer[onnxModel]
}

func (e *onnxEmbedder) load() (*onnxModel, error) {
	if m := e.state.Load(); m != nil {
		return m, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if m := e.state.Load(); m != nil {
		return m, nil
	}
	m, err := e.loader()
	if err != nil {
		return nil, fmt.Errorf("load embedding model %s: %w", e.model, err)
	}
	e.state.Store(m)
	return m, nil
}

func (e *onnxEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := e.load()
	if err != nil {
		return nil, err
	}
	ids := m.tokenizer.Encode(text)
	mask := make([]int64, len(ids))
	typeIDs := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	hidden, err := m.encoder.encode(ids, mask, typeIDs)
	if err != nil {
		return nil, fmt.Errorf("embedding inference: %w", err)
	}
	return normalizeL2(meanPool(hidden, mask, m.encoder.dimension())), nil
}

func (e *onnxEmbedder) ModelName() string {
	return "onnx:" + e.model
}

var ortEnvMu sync.Mutex

func initORTEnvironment(libPath string) error {
	ortEnvMu.Lock()
	defer ortEnvMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnx init environment: %w", err)
	}
	return nil
}

type ortEncoder struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	dim        int
}

func newORTEncoder(cfg *onnxConfig) (*ortEncoder, error) {
	if err := initORTEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx get input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("onnx model has no inputs or outputs")
	}
	inputNames := make([]string, 0, len(inputs))
	for _, in := range inputs {
		switch in.Name {
		case "input_ids", "attention_mask", "token_type_ids":
			inputNames = append(inputNames, in.Name)
		default:
			return nil, fmt.Errorf("onnx model has unexpected input %q", in.Name)
		}
	}
	dim := defaultOnnxDimension
	if shape := outputs[0].Dimensions; len(shape) == 3 && shape[2] > 0 {
		dim = int(shape[2])
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx session options: %w", err)
	}
	defer opts.Destroy()
	if cfg.Threads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.Threads); err != nil {
			return nil, fmt.Errorf("onnx set threads: %w", err)
		}
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("onnx new session: %w", err)
	}
	return &ortEncoder{session: session, inputNames: inputNames, dim: dim}, nil
}

func (o *ortEncoder) dimension() int {
	return o.dim
}

func (o *ortEncoder) encode(ids, mask, typeIDs []int64) ([]float32, error) {
	shape := ort.NewShape(1, int64(len(ids)))
	byName := map[string][]int64{
		"input_ids":      ids,
		"attention_mask": mask,
		"token_type_ids": typeIDs,
	}
	inputs := make([]ort.Value, 0, len(o.inputNames))
	defer func() {
		for _, v := range inputs {
			_ = v.Destroy()
		}
	}()
	for _, name := range o.inputNames {
		t, err := ort.NewTensor(shape, byName[name])
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, t)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(ids)), int64(o.dim)))
	if err != nil {
		return nil, err
	}
	defer output.Destroy()
	if err := o.session.Run(inputs, []ort.Value{output}); err != nil {
		return nil, err
	}
	data := output.GetData()
	hidden := make([]float32, len(data))
	copy(hidden, data)
	return hidden, nil
}

func createOnnxEmbedder(model string, args interface{}) (IEmbedder, error) {
	cfg := &onnxConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.ModelPath == "" || cfg.VocabPath == "" {
		return nil, fmt.Errorf("onnx embedder requires model_path and vocab_path")
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = defaultOnnxMaxSeqLen
	}
	if model == "" {
		model = "all-MiniLM-L6-v2"
	}
	return &onnxEmbedder{
		model: model,
		loader: func() (*onnxModel, error) {
			vocab, err := loadVocab(cfg.VocabPath)
			if err != nil {
				return nil, err
			}
			tok, err := newWordPieceTokenizer(vocab, cfg.MaxSeqLen)
			if err != nil {
				return nil, err
			}
			enc, err := newORTEncoder(cfg)
			if err != nil {
				return nil, err
			}
			return &onnxModel{tokenizer: tok, encoder: enc}, nil
		},
	}, nil
}

func init() {
	RegisterEmbedder("onnx", createOnnxEmbedder)
}
