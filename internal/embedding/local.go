//go:build llamacpp

package embedding

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"

	"github.com/nvandessel/nudgeloop/internal/vecmath"
)

// llama.Load and llama.Init are process-global and must only run once.
var (
	libOnce    sync.Once
	libLoadErr error
)

func loadLib(libPath string) error {
	libOnce.Do(func() {
		if err := llama.Load(libPath); err != nil {
			libLoadErr = fmt.Errorf("loading yzma shared library from %q: %w", libPath, err)
			return
		}
		llama.LogSet(llama.LogSilent())
		llama.Init()
	})
	return libLoadErr
}

// LocalConfig configures the local embedder.
type LocalConfig struct {
	// LibPath is the directory containing yzma shared libraries (.so/.dylib).
	// Falls back to YZMA_LIB env var at runtime.
	LibPath string

	// ModelPath is the GGUF embedding model.
	ModelPath string

	// GPULayers is the number of layers to offload to GPU (0 = CPU only).
	GPULayers int
}

// LocalEmbedder embeds text with a local GGUF model through yzma.
// Model access is serialized; a llama context is created per call.
type LocalEmbedder struct {
	libPath   string
	modelPath string
	gpuLayers int

	mu      sync.Mutex
	model   llama.Model
	vocab   llama.Vocab
	nEmbd   int32
	loaded  bool
	loadErr error
	once    sync.Once
}

// NewLocalEmbedder creates a LocalEmbedder. The model loads on first use.
func NewLocalEmbedder(cfg LocalConfig) *LocalEmbedder {
	libPath := cfg.LibPath
	if libPath == "" {
		libPath = os.Getenv("YZMA_LIB")
	}
	return &LocalEmbedder{
		libPath:   libPath,
		modelPath: cfg.ModelPath,
		gpuLayers: cfg.GPULayers,
	}
}

func (e *LocalEmbedder) loadModel() error {
	e.once.Do(func() {
		if e.modelPath == "" {
			e.loadErr = fmt.Errorf("no model path configured")
			return
		}
		if e.libPath == "" {
			e.loadErr = fmt.Errorf("no library path configured (set embedding.lib_path or YZMA_LIB)")
			return
		}
		if err := loadLib(e.libPath); err != nil {
			e.loadErr = err
			return
		}

		params := llama.ModelDefaultParams()
		gpuLayers := e.gpuLayers
		if gpuLayers > math.MaxInt32 {
			gpuLayers = math.MaxInt32
		}
		params.NGpuLayers = int32(gpuLayers)

		model, err := llama.ModelLoadFromFile(e.modelPath, params)
		if err != nil {
			e.loadErr = fmt.Errorf("loading model %s: %w", e.modelPath, err)
			return
		}
		if model == 0 {
			e.loadErr = fmt.Errorf("loading model %s: returned null handle", e.modelPath)
			return
		}

		e.model = model
		e.vocab = llama.ModelGetVocab(model)
		e.nEmbd = int32(llama.ModelNEmbd(model))
		e.loaded = true
	})
	return e.loadErr
}

// Available reports whether the library directory and model file exist.
// It does not load anything.
func (e *LocalEmbedder) Available() bool {
	if e.libPath == "" || e.modelPath == "" {
		return false
	}
	if info, err := os.Stat(e.libPath); err != nil || !info.IsDir() {
		return false
	}
	_, err := os.Stat(e.modelPath)
	return err == nil
}

// Name identifies the embedder.
func (e *LocalEmbedder) Name() string { return ProviderLocal }

// Embed returns the L2-normalized embedding of text.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.loadModel(); err != nil {
		return nil, fmt.Errorf("local embed: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := llama.Tokenize(e.vocab, text, true, true)

	ctxParams := llama.ContextDefaultParams()
	nTokens := len(tokens) + 64
	if nTokens > math.MaxUint32 {
		nTokens = math.MaxUint32
	}
	ctxParams.NCtx = uint32(nTokens)

	lctx, err := llama.InitFromModel(e.model, ctxParams)
	if err != nil {
		return nil, fmt.Errorf("creating embedding context: %w", err)
	}
	defer func() { _ = llama.Free(lctx) }()

	llama.SetEmbeddings(lctx, true)

	batch := llama.BatchGetOne(tokens)
	if _, err := llama.Decode(lctx, batch); err != nil {
		return nil, fmt.Errorf("decoding tokens: %w", err)
	}

	rawVec, err := llama.GetEmbeddingsSeq(lctx, 0, e.nEmbd)
	if err != nil {
		return nil, fmt.Errorf("getting embeddings: %w", err)
	}

	// rawVec is owned by lctx
	vec := make([]float32, len(rawVec))
	copy(vec, rawVec)
	vecmath.Normalize(vec)
	return vec, nil
}

// Close frees the model. llama.Close is process-global and not called.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		_ = llama.ModelFree(e.model)
		e.model = 0
		e.vocab = 0
		e.nEmbd = 0
		e.loaded = false
		e.once = sync.Once{}
	}
	return nil
}
