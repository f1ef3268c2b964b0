// Package intake feeds the staging store from the two selection entry
// points: drag-and-drop (type-filtered) and the file picker (unfiltered).
package intake

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/AshtonFabby/bank-statement-parser/internal/logctx"
	"github.com/AshtonFabby/bank-statement-parser/internal/staging"
)

// AcceptedMediaType is the only document format the drop path lets through.
const AcceptedMediaType = "application/pdf"

// ValidationError signals that a user selection produced nothing usable.
// The staging store is guaranteed untouched when one is raised.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Acquirer validates incoming selections and appends them to the store.
type Acquirer struct {
	store       *staging.Store
	maxParallel int

	dragActive atomic.Bool
}

func NewAcquirer(store *staging.Store, maxParallel int) *Acquirer {
	if maxParallel < 1 {
		maxParallel = 1
	}

	return &Acquirer{
		store:       store,
		maxParallel: maxParallel,
	}
}

// Drop handles a drag-and-drop selection. Only qualifying PDFs are staged;
// a selection with zero qualifying files raises a ValidationError and
// leaves the store unchanged. Returns the number of files staged.
func (a *Acquirer) Drop(ctx context.Context, candidates []*staging.StagedFile) (int, error) {
	defer a.dragActive.Store(false)

	logger := logctx.LoggerFromContext(ctx)

	qualified, err := a.qualify(ctx, candidates)
	if err != nil {
		return 0, fmt.Errorf("failed to qualify dropped files: %w", err)
	}

	accepted := make([]*staging.StagedFile, 0, len(candidates))
	rejected := make([]*staging.StagedFile, 0, len(candidates))

	for i, ok := range qualified {
		if ok {
			accepted = append(accepted, candidates[i])
		} else {
			rejected = append(rejected, candidates[i])
		}
	}

	// On a fully rejected selection the caller still owns every candidate
	// and releases them alongside the error.
	if len(accepted) == 0 {
		return 0, &ValidationError{Reason: "no qualifying files"}
	}

	a.store.Add(accepted...)

	// Rejected candidates never enter the store, so their references are
	// released here.
	discard(ctx, rejected)

	logger.Info("staged dropped files",
		"dropped", len(candidates),
		"accepted", len(accepted),
		"rejected", len(candidates)-len(accepted),
	)

	return len(accepted), nil
}

// Pick handles a file-picker selection. The picker applies its own accept
// filter, so everything it returns is staged as-is. Returns the number of
// files staged.
func (a *Acquirer) Pick(ctx context.Context, candidates []*staging.StagedFile) int {
	logger := logctx.LoggerFromContext(ctx)

	a.store.Add(candidates...)

	logger.Info("staged picked files", "picked", len(candidates))

	return len(candidates)
}

// DragEnter marks the drop zone as active. Purely a visual affordance.
func (a *Acquirer) DragEnter() {
	a.dragActive.Store(true)
}

// DragLeave marks the drop zone as inactive.
func (a *Acquirer) DragLeave() {
	a.dragActive.Store(false)
}

// DragActive reports whether a drag is hovering over the drop zone.
func (a *Acquirer) DragActive() bool {
	return a.dragActive.Load()
}

// qualify decides per candidate whether it is an accepted document. The
// declared media type wins when present; otherwise the content is sniffed.
// Sniffing is bounded-parallel since drops can carry many files.
func (a *Acquirer) qualify(ctx context.Context, candidates []*staging.StagedFile) ([]bool, error) {
	qualified := make([]bool, len(candidates))

	wg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, a.maxParallel)

	for i := range candidates {
		candidate := candidates[i]

		if candidate.MediaType != "" {
			qualified[i] = candidate.MediaType == AcceptedMediaType

			continue
		}

		sem <- struct{}{}

		idx := i

		wg.Go(func() error {
			defer func() { <-sem }() // release the slot

			ok, err := sniff(candidate)
			if err != nil {
				logctx.LoggerFromContext(ctx).Warn("failed to sniff file", "file", candidate.Name, "err", err)

				return nil
			}

			qualified[idx] = ok

			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		return nil, err
	}

	return qualified, nil
}

func discard(ctx context.Context, files []*staging.StagedFile) {
	logger := logctx.LoggerFromContext(ctx)

	for _, f := range files {
		if f.Discard == nil {
			continue
		}

		if err := f.Discard(); err != nil {
			logger.Warn("failed to discard rejected file", "file", f.Name, "err", err)
		}
	}
}

func sniff(f *staging.StagedFile) (bool, error) {
	rc, err := f.Open()
	if err != nil {
		return false, fmt.Errorf("failed to open file for sniffing: %w", err)
	}

	defer rc.Close()

	mtype, err := mimetype.DetectReader(rc)
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to detect media type: %w", err)
	}

	return mtype != nil && mtype.Is(AcceptedMediaType), nil
}
