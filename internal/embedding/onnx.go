package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// DefaultONNXModel is the HuggingFace repo of the local sentence embedder.
// It produces 384-dimensional vectors, the same shape as Ollama's all-minilm.
const DefaultONNXModel = "KnightsAnalytics/all-MiniLM-L6-v2"

// ONNXConfig configures the in-process embedder.
type ONNXConfig struct {
	ModelDir       string // download cache; defaults to the user cache dir
	ModelRepo      string // HuggingFace repo; non-repo names select DefaultONNXModel
	OrtLibraryPath string // path to libonnxruntime; empty uses the system default
}

// ONNX runs a sentence-transformer model in-process through onnxruntime.
// The model is downloaded and loaded on first use. Binaries must be built
// with the ORT tag for the session to start.
type ONNX struct {
	cfg       ONNXConfig
	modelPath string

	mu       sync.RWMutex
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
}

// NewONNX prepares an ONNX embedder without loading the model.
func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if !strings.Contains(cfg.ModelRepo, "/") {
		cfg.ModelRepo = DefaultONNXModel
	}
	if cfg.ModelDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("get cache dir: %w", err)
		}
		cfg.ModelDir = filepath.Join(dir, "orb", "models")
	}
	if err := os.MkdirAll(cfg.ModelDir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}

	return &ONNX{
		cfg:       cfg,
		modelPath: filepath.Join(cfg.ModelDir, strings.ReplaceAll(cfg.ModelRepo, "/", "_")),
	}, nil
}

func (o *ONNX) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := o.ensureModel(ctx); err != nil {
		return nil, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.pipeline == nil {
		return nil, fmt.Errorf("onnx pipeline closed")
	}

	out, err := o.pipeline.RunPipeline([]string{text})
	if err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	if len(out.Embeddings) != 1 {
		return nil, fmt.Errorf("onnx inference: got %d vectors for 1 input", len(out.Embeddings))
	}
	return out.Embeddings[0], nil
}

func (o *ONNX) ensureModel(ctx context.Context) error {
	o.mu.RLock()
	loaded := o.pipeline != nil
	o.mu.RUnlock()
	if loaded {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pipeline != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := os.Stat(o.modelPath); os.IsNotExist(err) {
		path, err := hugot.DownloadModel(o.cfg.ModelRepo, o.cfg.ModelDir, hugot.NewDownloadOptions())
		if err != nil {
			return fmt.Errorf("download model %s: %w", o.cfg.ModelRepo, err)
		}
		o.modelPath = path
	}

	sessionOpts := []options.WithOption{
		options.WithIntraOpNumThreads(runtime.NumCPU()),
	}
	if o.cfg.OrtLibraryPath != "" {
		sessionOpts = append(sessionOpts, options.WithOnnxLibraryPath(o.cfg.OrtLibraryPath))
	}

	session, err := hugot.NewORTSession(sessionOpts...)
	if err != nil {
		return fmt.Errorf("create ORT session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: o.modelPath,
		Name:      "orb-embedder",
	})
	if err != nil {
		session.Destroy()
		return fmt.Errorf("create pipeline: %w", err)
	}

	o.session = session
	o.pipeline = pipeline
	return nil
}

// Close releases the onnxruntime session.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	o.pipeline = nil
	return nil
}
