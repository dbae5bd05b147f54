package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kull-server/services/rating"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func makeImages(n int) []Image {
	images := make([]Image, n)
	for i := range images {
		images[i] = Image{ID: string(rune('a' + i))}
	}
	return images
}

func TestRunSplitsIntoGroups(t *testing.T) {
	var mu sync.Mutex
	var sizes []int

	results, err := Run(context.Background(), RunArgs{
		ProviderID: "test",
		Images:     makeImages(7),
		BatchSize:  3,
		Submit: func(ctx context.Context, group []Image) ([]rating.Result, error) {
			mu.Lock()
			sizes = append(sizes, len(group))
			mu.Unlock()
			out := make([]rating.Result, len(group))
			for i, img := range group {
				out[i] = rating.Result{ImageID: img.ID, StarRating: 3}
			}
			return out, nil
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 7)
	require.ElementsMatch(t, []int{3, 3, 1}, sizes)
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	results, err := Run(context.Background(), RunArgs{
		ProviderID: "test",
		Images:     makeImages(2),
		BatchSize:  2,
		MaxRetries: 3,
		Submit: func(ctx context.Context, group []Image) ([]rating.Result, error) {
			if calls.Add(1) < 2 {
				return nil, &RetryAfterError{After: time.Millisecond, Err: errors.New("throttled")}
			}
			return []rating.Result{{ImageID: "a"}, {ImageID: "b"}}, nil
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, int32(2), calls.Load())
}

func TestRunExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")

	_, err := Run(context.Background(), RunArgs{
		ProviderID: "test",
		Images:     makeImages(1),
		BatchSize:  1,
		MaxRetries: 2,
		Submit: func(ctx context.Context, group []Image) ([]rating.Result, error) {
			calls.Add(1)
			return nil, &RetryAfterError{After: time.Millisecond, Err: boom}
		},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.Equal(t, int32(3), calls.Load())
}

func TestRunBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32

	_, err := Run(context.Background(), RunArgs{
		ProviderID:  "test",
		Images:      makeImages(8),
		BatchSize:   1,
		Concurrency: 2,
		Submit: func(ctx context.Context, group []Image) ([]rating.Result, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return []rating.Result{{ImageID: group[0].ID}}, nil
		},
	})
	require.NoError(t, err)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	_, err := Run(ctx, RunArgs{
		ProviderID: "test",
		Images:     makeImages(1),
		BatchSize:  1,
		MaxRetries: 5,
		Submit: func(ctx context.Context, group []Image) ([]rating.Result, error) {
			cancel()
			return nil, errors.New("transient")
		},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunValidation(t *testing.T) {
	_, err := Run(context.Background(), RunArgs{ProviderID: "test"})
	require.Error(t, err)

	_, err = Run(context.Background(), RunArgs{ProviderID: "test", Images: makeImages(1)})
	require.Error(t, err)
}
