package session_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshtonFabby/bank-statement-parser/internal/delivery"
	"github.com/AshtonFabby/bank-statement-parser/internal/intake"
	"github.com/AshtonFabby/bank-statement-parser/internal/session"
	"github.com/AshtonFabby/bank-statement-parser/internal/staging"
	"github.com/AshtonFabby/bank-statement-parser/internal/telemetry"
	"github.com/AshtonFabby/bank-statement-parser/internal/transfer"
)

// fakeParser implements transfer.StatementParser for testing.
type fakeParser struct {
	mu        sync.Mutex
	calls     int
	err       error
	archive   []byte
	blockedOn chan struct{} // when set, ParseStatements waits until closed
	started   chan struct{} // when set, closed once ParseStatements begins
}

func (f *fakeParser) ParseStatements(ctx context.Context, files []*staging.StagedFile) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
		f.started = nil
	}

	if f.blockedOn != nil {
		<-f.blockedOn
	}

	if f.err != nil {
		return nil, 0, f.err
	}

	return io.NopCloser(bytes.NewReader(f.archive)), int64(len(f.archive)), nil
}

func (f *fakeParser) ParseStatementsJSON(ctx context.Context, files []*staging.StagedFile) (*transfer.ParseResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	return &transfer.ParseResult{}, nil
}

func (f *fakeParser) ListBanks(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}

	return []string{"absa", "capitec"}, nil
}

func (f *fakeParser) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

// fakeArchiver implements session.Archiver for testing.
type fakeArchiver struct {
	materializeErr error
	commitErr      error
	committed      int
	discarded      int
	path           string
}

type fakePending struct {
	a *fakeArchiver
}

func (p *fakePending) Commit() (string, error) {
	if p.a.commitErr != nil {
		return "", p.a.commitErr
	}

	p.a.committed++

	return p.a.path, nil
}

func (p *fakePending) Discard() error {
	p.a.discarded++

	return nil
}

func (a *fakeArchiver) Materialize(ctx context.Context, r io.Reader, size int64) (delivery.Pending, error) {
	if a.materializeErr != nil {
		return nil, a.materializeErr
	}

	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}

	return &fakePending{a: a}, nil
}

func stagedFile(name string) *staging.StagedFile {
	return &staging.StagedFile{
		Name:      name,
		Size:      4,
		MediaType: "application/pdf",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader([]byte("data"))), nil
		},
	}
}

func newSession(parser transfer.StatementParser, archiver session.Archiver) (*session.Session, *staging.Store) {
	store := staging.NewStore()
	acquirer := intake.NewAcquirer(store, 2)
	tel := &telemetry.Telemetry{}

	return session.New(store, acquirer, parser, archiver, tel), store
}

func TestSubmit_EmptyStore(t *testing.T) {
	parser := &fakeParser{}
	sess, _ := newSession(parser, &fakeArchiver{path: "/downloads/bank_statements.zip"})

	_, err := sess.Submit(context.Background())

	assert.ErrorIs(t, err, session.ErrNothingStaged)
	assert.Zero(t, parser.callCount(), "no network call may be issued")
	assert.Equal(t, session.StateIdle, sess.State())
	assert.Zero(t, sess.Progress())
}

func TestSubmit_EmptyStoreClearsStaleError(t *testing.T) {
	parser := &fakeParser{}
	sess, store := newSession(parser, &fakeArchiver{})

	_, err := sess.AddFromDrop(context.Background(), []*staging.StagedFile{
		{
			Name:      "notes.txt",
			MediaType: "text/plain",
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader([]byte("text"))), nil
			},
		},
	})
	require.Error(t, err)
	require.Equal(t, "no qualifying files", sess.ErrorMessage())
	require.Zero(t, store.Len())

	_, err = sess.Submit(context.Background())
	assert.ErrorIs(t, err, session.ErrNothingStaged)

	// The rejected submit is still a user action; the old message is gone.
	assert.Empty(t, sess.ErrorMessage())
}

func TestSubmit_Success(t *testing.T) {
	parser := &fakeParser{archive: []byte("PK fake zip")}
	archiver := &fakeArchiver{path: "/downloads/bank_statements.zip"}
	sess, store := newSession(parser, archiver)

	store.Add(stagedFile("jan.pdf"), stagedFile("feb.pdf"))

	var stages []session.Stage
	var percents []int

	sess.OnProgress = func(stage session.Stage, percent int) {
		stages = append(stages, stage)
		percents = append(percents, percent)
	}

	path, err := sess.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/downloads/bank_statements.zip", path)
	assert.Zero(t, store.Len(), "success empties the staging store")
	assert.Equal(t, session.StateIdle, sess.State())
	assert.Zero(t, sess.Progress())
	assert.Empty(t, sess.ErrorMessage())
	assert.Equal(t, 1, archiver.committed, "exactly one download fires")

	assert.Equal(t, []session.Stage{
		session.StageConstructed,
		session.StageDispatched,
		session.StageReceived,
		session.StageMaterialized,
		session.StageDelivered,
	}, stages)
	assert.Equal(t, []int{10, 30, 70, 90, 100}, percents)
}

func TestSubmit_APIFailureKeepsStaging(t *testing.T) {
	parser := &fakeParser{
		err: &transfer.APIError{Operation: "parse_statements", StatusCode: 400, Detail: "bad file"},
	}
	sess, store := newSession(parser, &fakeArchiver{})

	store.Add(stagedFile("jan.pdf"), stagedFile("feb.pdf"))
	before := store.Files()

	_, err := sess.Submit(context.Background())
	require.Error(t, err)

	assert.Equal(t, "bad file", sess.ErrorMessage())
	assert.Equal(t, session.StateIdle, sess.State())
	assert.Zero(t, sess.Progress())

	after := store.Files()
	require.Len(t, after, len(before), "failure retains the staged files")

	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
	}
}

func TestSubmit_TransportFailureMessage(t *testing.T) {
	parser := &fakeParser{
		err: &transfer.TransportError{Operation: "parse_statements", Err: errors.New("connection refused")},
	}
	sess, store := newSession(parser, &fakeArchiver{})

	store.Add(stagedFile("jan.pdf"))

	_, err := sess.Submit(context.Background())
	require.Error(t, err)

	assert.Equal(t, "upload failed: connection refused", sess.ErrorMessage())
	assert.Equal(t, 1, store.Len())
}

func TestSubmit_SecondSubmitRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	parser := &fakeParser{archive: []byte("PK"), blockedOn: release, started: started}
	sess, store := newSession(parser, &fakeArchiver{path: "/downloads/bank_statements.zip"})

	store.Add(stagedFile("jan.pdf"))

	done := make(chan error, 1)

	go func() {
		_, err := sess.Submit(context.Background())
		done <- err
	}()

	<-started

	_, err := sess.Submit(context.Background())
	assert.ErrorIs(t, err, session.ErrUploadInFlight)

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, parser.callCount(), "second submit must not reach the network")
}

func TestSubmit_CommitFailureDiscardsPending(t *testing.T) {
	parser := &fakeParser{archive: []byte("PK")}
	archiver := &fakeArchiver{commitErr: errors.New("disk full")}
	sess, store := newSession(parser, archiver)

	store.Add(stagedFile("jan.pdf"))

	_, err := sess.Submit(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1, archiver.discarded, "transient archive must be removed")
	assert.Equal(t, 1, store.Len())
	assert.NotEmpty(t, sess.ErrorMessage())
}

func TestNewAction_ClearsErrorMessage(t *testing.T) {
	parser := &fakeParser{
		err: &transfer.APIError{Operation: "parse_statements", StatusCode: 400, Detail: "bad file"},
	}
	sess, store := newSession(parser, &fakeArchiver{})

	store.Add(stagedFile("jan.pdf"))

	_, err := sess.Submit(context.Background())
	require.Error(t, err)
	require.Equal(t, "bad file", sess.ErrorMessage())

	sess.AddFromPicker(context.Background(), []*staging.StagedFile{stagedFile("mar.pdf")})

	assert.Empty(t, sess.ErrorMessage(), "a new user action clears the prior message")
}

func TestAddFromDrop_ValidationErrorSetsMessage(t *testing.T) {
	parser := &fakeParser{}
	sess, store := newSession(parser, &fakeArchiver{})

	added, err := sess.AddFromDrop(context.Background(), []*staging.StagedFile{
		{
			Name:      "notes.txt",
			MediaType: "text/plain",
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader([]byte("text"))), nil
			},
		},
	})

	var verr *intake.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, added)
	assert.Equal(t, "no qualifying files", sess.ErrorMessage())
	assert.Zero(t, store.Len())
}

func TestSubmitJSON_SharesSingleFlightGuard(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	parser := &fakeParser{archive: []byte("PK"), blockedOn: release, started: started}
	sess, store := newSession(parser, &fakeArchiver{path: "/downloads/bank_statements.zip"})

	store.Add(stagedFile("jan.pdf"))

	done := make(chan error, 1)

	go func() {
		_, err := sess.Submit(context.Background())
		done <- err
	}()

	<-started

	_, err := sess.SubmitJSON(context.Background())
	assert.ErrorIs(t, err, session.ErrUploadInFlight)

	close(release)
	require.NoError(t, <-done)
}

func TestSubmitJSON_Success(t *testing.T) {
	parser := &fakeParser{}
	sess, store := newSession(parser, &fakeArchiver{})

	store.Add(stagedFile("jan.pdf"))

	result, err := sess.SubmitJSON(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Zero(t, store.Len())
	assert.Equal(t, session.StateIdle, sess.State())
	assert.Zero(t, sess.Progress())
}

func TestRemove_ClearsErrorAndDropsFile(t *testing.T) {
	parser := &fakeParser{
		err: &transfer.APIError{Operation: "parse_statements", StatusCode: 500, Detail: "boom"},
	}
	sess, store := newSession(parser, &fakeArchiver{})

	store.Add(stagedFile("jan.pdf"), stagedFile("feb.pdf"))

	_, err := sess.Submit(context.Background())
	require.Error(t, err)
	require.NotEmpty(t, sess.ErrorMessage())

	files := store.Files()
	require.NoError(t, sess.Remove(files[0].ID))

	assert.Empty(t, sess.ErrorMessage())
	assert.Equal(t, 1, store.Len())
}
