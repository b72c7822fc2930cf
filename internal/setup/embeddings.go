// Package setup installs and detects the optional local embedding
// dependencies (llama.cpp shared libraries and a GGUF model) under the
// nudgeloop data directory.
package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/hybridgroup/yzma/pkg/download"
)

// DefaultEmbeddingModelURL returns the HuggingFace URL for the default embedding model.
func DefaultEmbeddingModelURL() string {
	return "https://huggingface.co/nomic-ai/nomic-embed-text-v1.5-GGUF/resolve/main/nomic-embed-text-v1.5.Q4_K_M.gguf"
}

// EmbeddingSetup describes the detected state of embedding dependencies.
type EmbeddingSetup struct {
	LibPath   string `json:"lib_path,omitempty"`   // llama.cpp libs directory
	ModelPath string `json:"model_path,omitempty"` // GGUF model file
	Available bool   `json:"available"`
}

// LibDir is where libraries are installed under dataDir.
func LibDir(dataDir string) string {
	return filepath.Join(dataDir, "lib")
}

// ModelsDir is where models are installed under dataDir.
func ModelsDir(dataDir string) string {
	return filepath.Join(dataDir, "models")
}

// DetectInstalled checks dataDir/lib for the llama.cpp library and
// dataDir/models for a GGUF model. Model files are considered in name order.
func DetectInstalled(dataDir string) EmbeddingSetup {
	var result EmbeddingSetup

	libDir := LibDir(dataDir)
	if _, err := os.Stat(filepath.Join(libDir, libraryFileName())); err == nil {
		result.LibPath = libDir
	}

	modelsDir := ModelsDir(dataDir)
	// ReadDir returns entries sorted by filename.
	entries, err := os.ReadDir(modelsDir)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() && filepath.Ext(entry.Name()) == ".gguf" {
				result.ModelPath = filepath.Join(modelsDir, entry.Name())
				break
			}
		}
	}

	result.Available = result.LibPath != "" && result.ModelPath != ""
	return result
}

// libraryFileName returns the platform-specific library filename.
func libraryFileName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libllama.dylib"
	case "windows":
		return "llama.dll"
	default:
		return "libllama.so"
	}
}

// DownloadLibraries downloads llama.cpp shared libraries to destDir for the
// running OS and architecture, CPU build.
func DownloadLibraries(ctx context.Context, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating lib directory: %w", err)
	}

	version, err := download.LlamaLatestVersion()
	if err != nil {
		return fmt.Errorf("getting latest llama.cpp version: %w", err)
	}

	return download.GetWithContext(ctx, runtime.GOARCH, runtime.GOOS, "cpu", version, destDir, download.ProgressTracker)
}

// DownloadEmbeddingModel downloads the default embedding model to destDir.
func DownloadEmbeddingModel(ctx context.Context, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating models directory: %w", err)
	}

	return download.GetModelWithContext(ctx, DefaultEmbeddingModelURL(), destDir, download.ProgressTracker)
}
