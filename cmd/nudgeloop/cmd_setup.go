package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/nudgeloop/internal/config"
	"github.com/nvandessel/nudgeloop/internal/embedding"
	"github.com/nvandessel/nudgeloop/internal/setup"
)

func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Install optional dependencies",
	}
	cmd.AddCommand(newSetupEmbeddingsCmd())
	return cmd
}

func newSetupEmbeddingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embeddings",
		Short: "Detect or download the local embedding library and model",
		Long: `Check the data directory for the llama.cpp shared library (lib/) and a
GGUF embedding model (models/). With --download, fetch whatever is missing.

The local provider only works in binaries built with -tags llamacpp. When
embedding.provider is "local" and its paths are unset, the installed files
are used automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			download, _ := cmd.Flags().GetBool("download")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dataDir, err := cfg.ResolveDataDir()
			if err != nil {
				return fmt.Errorf("resolve data directory: %w", err)
			}

			found := setup.DetectInstalled(dataDir)
			if download && !found.Available {
				if found.LibPath == "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "Downloading llama.cpp libraries...")
					if err := setup.DownloadLibraries(cmd.Context(), setup.LibDir(dataDir)); err != nil {
						return fmt.Errorf("download libraries: %w", err)
					}
				}
				if found.ModelPath == "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "Downloading embedding model...")
					if err := setup.DownloadEmbeddingModel(cmd.Context(), setup.ModelsDir(dataDir)); err != nil {
						return fmt.Errorf("download model: %w", err)
					}
				}
				found = setup.DetectInstalled(dataDir)
			}

			if jsonOut {
				return writeJSON(cmd, found)
			}
			printEmbeddingSetup(cmd, dataDir, found)
			return nil
		},
	}

	cmd.Flags().Bool("download", false, "Download the library and model if missing")

	return cmd
}

func printEmbeddingSetup(cmd *cobra.Command, dataDir string, found setup.EmbeddingSetup) {
	w := cmd.OutOrStdout()
	status := func(path string) string {
		if path == "" {
			return "not found"
		}
		return path
	}
	fmt.Fprintf(w, "Library: %s\n", status(found.LibPath))
	fmt.Fprintf(w, "Model:   %s\n", status(found.ModelPath))

	if !found.Available {
		fmt.Fprintf(w, "\nRun 'nudgeloop setup embeddings --download' to install into %s.\n", dataDir)
		return
	}
	fmt.Fprintln(w, "\nAdd to your config file:")
	fmt.Fprintln(w, "  embedding:")
	fmt.Fprintf(w, "    provider: %s\n", embedding.ProviderLocal)
	fmt.Fprintf(w, "    lib_path: %s\n", found.LibPath)
	fmt.Fprintf(w, "    model_path: %s\n", found.ModelPath)
}

// fillEmbeddingPaths points an unconfigured local provider at the files
// installed by 'setup embeddings'.
func fillEmbeddingPaths(cfg *config.Config) {
	if !strings.EqualFold(cfg.Embedding.Provider, embedding.ProviderLocal) {
		return
	}
	if cfg.Embedding.LibPath != "" && cfg.Embedding.ModelPath != "" {
		return
	}
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return
	}
	found := setup.DetectInstalled(dataDir)
	if cfg.Embedding.LibPath == "" {
		cfg.Embedding.LibPath = found.LibPath
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = found.ModelPath
	}
}
