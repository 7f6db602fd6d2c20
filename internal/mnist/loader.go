package mnist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// Source describes where the dataset is looked for.
type Source struct {
	// DataDir holds IDX files; checked first.
	DataDir string
	// CacheDir holds mnist.npz; downloaded into when missing and Download is set.
	CacheDir string
	// MirrorURL overrides DefaultMirrorURL.
	MirrorURL string
	// Download enables fetching mnist.npz.
	Download bool
	// SkipVerify disables SHA-256 checks, for custom mirrors and test fixtures.
	SkipVerify bool
	// Client is the HTTP client used for downloads; nil means http.DefaultClient.
	Client *http.Client
}

// Load returns the train and test splits from the first usable source.
//
// Returns ErrNotFound if no IDX files or archive exist and downloading is
// disabled.
func Load(ctx context.Context, src Source, logger *slog.Logger) (train, test *Dataset, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	if hasIDX(src.DataDir) {
		logger.Info("loading MNIST from IDX files", "dir", src.DataDir)
		return loadIDX(ctx, src.DataDir, !src.SkipVerify)
	}

	if src.CacheDir == "" {
		return nil, nil, fmt.Errorf("%w: no IDX files in %q and no cache directory", ErrNotFound, src.DataDir)
	}
	path := filepath.Join(src.CacheDir, NPZFile)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if !src.Download {
			return nil, nil, fmt.Errorf("%w: %s (downloading disabled)", ErrNotFound, path)
		}
		url := src.MirrorURL
		if url == "" {
			url = DefaultMirrorURL
		}
		digest := NPZDigest
		if src.SkipVerify {
			digest = ""
		}
		if err := download(ctx, src.Client, url, path, digest, logger); err != nil {
			return nil, nil, fmt.Errorf("failed to download MNIST: %w", err)
		}
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	logger.Info("loading MNIST archive", "path", path)
	//nolint:gosec // G304: cache path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	train, test, err = readNPZ(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return train, test, nil
}

// loadIDX decodes the train and test IDX pairs concurrently.
func loadIDX(ctx context.Context, dir string, verify bool) (train, test *Dataset, err error) {
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		train, err = loadIDXSplit(dir, TrainImagesFile, TrainLabelsFile, verify)
		if err != nil {
			return fmt.Errorf("train split: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		test, err = loadIDXSplit(dir, TestImagesFile, TestLabelsFile, verify)
		if err != nil {
			return fmt.Errorf("test split: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}
