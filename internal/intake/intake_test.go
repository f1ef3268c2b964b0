package intake_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshtonFabby/bank-statement-parser/internal/intake"
	"github.com/AshtonFabby/bank-statement-parser/internal/staging"
)

// pdfContent is the minimal header mimetype recognizes as application/pdf.
var pdfContent = []byte("%PDF-1.4\n%fake statement body")

func candidate(name, mediaType string, content []byte) *staging.StagedFile {
	return &staging.StagedFile{
		Name:      name,
		Size:      int64(len(content)),
		MediaType: mediaType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(content)), nil
		},
	}
}

func TestDrop_NoQualifyingFiles(t *testing.T) {
	store := staging.NewStore()
	a := intake.NewAcquirer(store, 2)

	added, err := a.Drop(context.Background(), []*staging.StagedFile{
		candidate("notes.txt", "text/plain", []byte("plain text")),
		candidate("photo.png", "image/png", []byte("not a png")),
	})

	var verr *intake.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "no qualifying files", verr.Reason)
	assert.Zero(t, added)
	assert.Zero(t, store.Len(), "store must stay untouched on validation failure")
}

func TestDrop_MixedSelection(t *testing.T) {
	store := staging.NewStore()
	a := intake.NewAcquirer(store, 2)

	added, err := a.Drop(context.Background(), []*staging.StagedFile{
		candidate("jan.pdf", "application/pdf", pdfContent),
		candidate("notes.txt", "text/plain", []byte("plain text")),
		candidate("feb.pdf", "application/pdf", pdfContent),
	})

	require.NoError(t, err)
	assert.Equal(t, 2, added)

	files := store.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "jan.pdf", files[0].Name)
	assert.Equal(t, "feb.pdf", files[1].Name)
}

func TestDrop_MixedSelectionReleasesRejected(t *testing.T) {
	store := staging.NewStore()
	a := intake.NewAcquirer(store, 2)

	var discarded []string

	withDiscard := func(f *staging.StagedFile) *staging.StagedFile {
		f.Discard = func() error {
			discarded = append(discarded, f.Name)
			return nil
		}
		return f
	}

	added, err := a.Drop(context.Background(), []*staging.StagedFile{
		withDiscard(candidate("jan.pdf", "application/pdf", pdfContent)),
		withDiscard(candidate("notes.txt", "text/plain", []byte("plain text"))),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, added)

	// Only the rejected file releases its reference; the staged one is
	// still owned by the store.
	assert.Equal(t, []string{"notes.txt"}, discarded)
}

func TestDrop_SniffsUndeclaredMediaType(t *testing.T) {
	store := staging.NewStore()
	a := intake.NewAcquirer(store, 2)

	added, err := a.Drop(context.Background(), []*staging.StagedFile{
		candidate("statement", "", pdfContent),
		candidate("readme", "", []byte("just text, no magic bytes")),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, added)

	files := store.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "statement", files[0].Name)
}

func TestDrop_ClearsDragActive(t *testing.T) {
	store := staging.NewStore()
	a := intake.NewAcquirer(store, 2)

	a.DragEnter()
	require.True(t, a.DragActive())

	_, _ = a.Drop(context.Background(), []*staging.StagedFile{
		candidate("jan.pdf", "application/pdf", pdfContent),
	})

	assert.False(t, a.DragActive())
}

func TestPick_AcceptsEverything(t *testing.T) {
	store := staging.NewStore()
	a := intake.NewAcquirer(store, 2)

	added := a.Pick(context.Background(), []*staging.StagedFile{
		candidate("jan.pdf", "application/pdf", pdfContent),
		candidate("notes.txt", "text/plain", []byte("plain text")),
	})

	assert.Equal(t, 2, added)
	assert.Equal(t, 2, store.Len())
}

func TestDragFlags(t *testing.T) {
	a := intake.NewAcquirer(staging.NewStore(), 1)

	assert.False(t, a.DragActive())
	a.DragEnter()
	assert.True(t, a.DragActive())
	a.DragLeave()
	assert.False(t, a.DragActive())
}
