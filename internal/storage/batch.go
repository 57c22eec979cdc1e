package storage

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchResult contains the outcome of a batch operation.
type BatchResult struct {
	Data   map[string][]byte
	Errors map[string]error
}

// Batch runs Get and Delete over many objects with bounded parallelism.
type Batch struct {
	storage     ObjectStorage
	concurrency int
}

// NewBatch creates a batch runner. concurrency below 1 means 1.
func NewBatch(storage ObjectStorage, concurrency int) *Batch {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Batch{storage: storage, concurrency: concurrency}
}

// GetAll fetches every path. Missing objects are reported in Errors as
// ErrObjectNotFound.
func (b *Batch) GetAll(ctx context.Context, paths []string) *BatchResult {
	result := &BatchResult{
		Data:   make(map[string][]byte, len(paths)),
		Errors: make(map[string]error),
	}
	var mu sync.Mutex
	b.run(ctx, paths, result, &mu, func(path string) error {
		data, err := b.storage.Get(ctx, path)
		if err != nil {
			return err
		}
		mu.Lock()
		result.Data[path] = data
		mu.Unlock()
		return nil
	})
	return result
}

// DeleteAll removes every path.
func (b *Batch) DeleteAll(ctx context.Context, paths []string) *BatchResult {
	result := &BatchResult{Errors: make(map[string]error)}
	var mu sync.Mutex
	b.run(ctx, paths, result, &mu, func(path string) error {
		return b.storage.Delete(ctx, path)
	})
	return result
}

// DeletePrefix lists and removes every object under prefix, returning how
// many were removed.
func (b *Batch) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	paths, err := b.storage.ListObjects(ctx, prefix)
	if err != nil {
		return 0, err
	}
	res := b.DeleteAll(ctx, paths)
	if len(res.Errors) > 0 {
		for path, err := range res.Errors {
			return len(paths) - len(res.Errors), fmt.Errorf("delete %s: %w", path, err)
		}
	}
	return len(paths), nil
}

func (b *Batch) run(ctx context.Context, paths []string, result *BatchResult, mu *sync.Mutex, op func(path string) error) {
	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup

	for _, p := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[p] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(path string) {
			defer sem.Release(1)
			defer wg.Done()

			if err := op(path); err != nil {
				mu.Lock()
				result.Errors[path] = err
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
}
