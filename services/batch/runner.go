package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"kull-server/services/rating"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Image is one image submitted for rating. Remote providers need URL or B64;
// on-device providers may receive neither and resolve the file locally.
type Image struct {
	ID       string            `json:"id"`
	Filename string            `json:"filename,omitempty"`
	URL      string            `json:"url,omitempty"`
	B64      string            `json:"b64,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
}

// SubmitFunc sends one image group to a provider and returns its ratings.
type SubmitFunc func(ctx context.Context, images []Image) ([]rating.Result, error)

// RetryAfterError lets a submit function pass through the provider's
// retry-after hint instead of the default backoff.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

type RunArgs struct {
	ProviderID  string
	Images      []Image
	BatchSize   int
	Concurrency int
	MaxRetries  int
	Submit      SubmitFunc
}

// Run splits the images into provider-sized groups, submits them with bounded
// concurrency, and merges the ratings. Each group is retried with exponential
// backoff plus jitter; a group that exhausts its retries fails the whole run.
func Run(ctx context.Context, args RunArgs) ([]rating.Result, error) {
	if len(args.Images) == 0 {
		return nil, errors.New("no images to submit")
	}
	if args.Submit == nil {
		return nil, errors.New("submit function required")
	}

	size := args.BatchSize
	if size <= 0 {
		size = len(args.Images)
	}

	var groups [][]Image
	for i := 0; i < len(args.Images); i += size {
		end := i + size
		if end > len(args.Images) {
			end = len(args.Images)
		}
		groups = append(groups, args.Images[i:end])
	}

	concurrency := args.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	merged := make([]rating.Result, 0, len(args.Images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, group := range groups {
		group := group
		g.Go(func() error {
			results, err := submitWithRetry(gctx, args, group)
			if err != nil {
				return err
			}
			mu.Lock()
			merged = append(merged, results...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merged, nil
}

func submitWithRetry(ctx context.Context, args RunArgs, group []Image) ([]rating.Result, error) {
	maxRetries := args.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		results, err := args.Submit(ctx, group)
		if err == nil {
			return results, nil
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}

		backoff := time.Duration(1<<uint(attempt))*time.Second +
			time.Duration(rand.Intn(500))*time.Millisecond
		var retryAfter *RetryAfterError
		if errors.As(err, &retryAfter) && retryAfter.After > 0 {
			backoff = retryAfter.After
		}

		zap.L().Warn("batch submit failed, backing off",
			zap.String("provider_id", args.ProviderID),
			zap.Int("group_size", len(group)),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("batch failed after %d retries: %w", maxRetries, lastErr)
}
