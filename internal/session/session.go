// Package session owns the client-held state of one upload session: the
// staging store, the submission lifecycle, progress, and the error message.
// It is independent of any presentation surface and fully testable without
// one.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AshtonFabby/bank-statement-parser/internal/delivery"
	"github.com/AshtonFabby/bank-statement-parser/internal/intake"
	"github.com/AshtonFabby/bank-statement-parser/internal/logctx"
	"github.com/AshtonFabby/bank-statement-parser/internal/staging"
	"github.com/AshtonFabby/bank-statement-parser/internal/telemetry"
	"github.com/AshtonFabby/bank-statement-parser/internal/transfer"
)

// State is the submission lifecycle state. There is exactly one per
// session and it never runs concurrently.
type State string

const (
	StateIdle      State = "idle"
	StateUploading State = "uploading"
)

// Stage names the coarse status a progress checkpoint stands for.
type Stage string

const (
	StageConstructed  Stage = "constructed"  // request assembled
	StageDispatched   Stage = "dispatched"   // request on the wire
	StageReceived     Stage = "received"     // response arrived, body being consumed
	StageMaterialized Stage = "materialized" // payload fully on disk
	StageDelivered    Stage = "delivered"    // download triggered
)

// checkpoints maps each stage to its fixed progress percentage. The values
// are simulated status markers, not measured transfer progress.
var checkpoints = map[Stage]int{
	StageConstructed:  10,
	StageDispatched:   30,
	StageReceived:     70,
	StageMaterialized: 90,
	StageDelivered:    100,
}

var (
	// ErrNothingStaged rejects a submit with an empty staging store. No
	// state transition happens and no request is issued.
	ErrNothingStaged = errors.New("nothing staged for submission")

	// ErrUploadInFlight rejects a second submit while one is running.
	// The second submit is never queued.
	ErrUploadInFlight = errors.New("an upload is already in flight")
)

// Archiver is the delivery boundary the session drives on success.
type Archiver interface {
	Materialize(ctx context.Context, r io.Reader, size int64) (delivery.Pending, error)
}

// Session is the orchestrator. All mutation goes through it.
type Session struct {
	store     *staging.Store
	acquirer  *intake.Acquirer
	parser    transfer.StatementParser
	archiver  Archiver
	telemetry *telemetry.Telemetry

	// OnProgress, when set, observes every checkpoint of an attempt.
	OnProgress func(stage Stage, percent int)

	mu            sync.Mutex
	state         State
	progress      int
	errorMessage  string
	uploading     bool
	lastDelivered string
}

func New(store *staging.Store, acquirer *intake.Acquirer, parser transfer.StatementParser, archiver Archiver, tel *telemetry.Telemetry) *Session {
	return &Session{
		store:     store,
		acquirer:  acquirer,
		parser:    parser,
		archiver:  archiver,
		telemetry: tel,
		state:     StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Progress returns the current checkpoint percentage (0 outside attempts).
func (s *Session) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.progress
}

// ErrorMessage returns the currently held error message, if any.
func (s *Session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.errorMessage
}

// LastDelivered returns the path of the most recently delivered archive.
func (s *Session) LastDelivered() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastDelivered
}

// Staged returns the ordered snapshot of staged files.
func (s *Session) Staged() []*staging.StagedFile {
	return s.store.Files()
}

// DragActive reports the drop-zone affordance flag.
func (s *Session) DragActive() bool {
	return s.acquirer.DragActive()
}

// DragEnter forwards the drop-zone enter event.
func (s *Session) DragEnter() {
	s.acquirer.DragEnter()
}

// DragLeave forwards the drop-zone leave event.
func (s *Session) DragLeave() {
	s.acquirer.DragLeave()
}

// AddFromDrop stages a dropped selection through the type filter. A
// selection with zero qualifying files sets the error message and leaves
// the store untouched.
func (s *Session) AddFromDrop(ctx context.Context, candidates []*staging.StagedFile) (int, error) {
	s.clearError()

	added, err := s.acquirer.Drop(ctx, candidates)
	if err != nil {
		var verr *intake.ValidationError
		if errors.As(err, &verr) {
			s.setError(verr.Reason)
		}

		return 0, err
	}

	s.telemetry.AddStagedFiles(int64(added))

	return added, nil
}

// AddFromPicker stages a picker selection unfiltered.
func (s *Session) AddFromPicker(ctx context.Context, candidates []*staging.StagedFile) int {
	s.clearError()

	added := s.acquirer.Pick(ctx, candidates)
	s.telemetry.AddStagedFiles(int64(added))

	return added
}

// Remove drops one staged file by its ID.
func (s *Session) Remove(id uuid.UUID) error {
	s.clearError()

	if err := s.store.Remove(id); err != nil {
		return err
	}

	s.telemetry.AddStagedFiles(-1)

	return nil
}

// Banks lists the banks the parsing service supports. A read-only query
// that never touches the submission lifecycle.
func (s *Session) Banks(ctx context.Context) ([]string, error) {
	return s.parser.ListBanks(ctx)
}

// Submit drives one full attempt: multipart upload, archive retrieval and
// delivery. On success the staging store is emptied and the archive path
// returned; on failure the store is untouched so the user can retry.
func (s *Session) Submit(ctx context.Context) (string, error) {
	files, err := s.begin()
	if err != nil {
		return "", err
	}

	logger := logctx.LoggerFromContext(ctx)
	start := time.Now()

	s.checkpoint(StageConstructed)
	s.checkpoint(StageDispatched)

	body, size, err := s.parser.ParseStatements(ctx, files)
	if err != nil {
		s.fail(err, start)

		return "", err
	}

	s.checkpoint(StageReceived)

	pending, err := s.archiver.Materialize(ctx, body, size)
	body.Close()

	if err != nil {
		s.fail(err, start)

		return "", err
	}

	s.checkpoint(StageMaterialized)

	path, err := pending.Commit()
	if err != nil {
		if derr := pending.Discard(); derr != nil {
			logger.Warn("failed to discard transient archive", "err", derr)
		}

		s.fail(err, start)

		return "", err
	}

	s.checkpoint(StageDelivered)

	if err := s.store.Clear(); err != nil {
		logger.Warn("failed to release staged files", "err", err)
	}

	s.complete(path, len(files), start)

	logger.Info("submission completed", "file_count", len(files), "archive", path)

	return path, nil
}

// SubmitJSON drives one full attempt against the JSON variant of the parse
// endpoint. It shares the single-flight guard and lifecycle with Submit.
func (s *Session) SubmitJSON(ctx context.Context) (*transfer.ParseResult, error) {
	files, err := s.begin()
	if err != nil {
		return nil, err
	}

	logger := logctx.LoggerFromContext(ctx)
	start := time.Now()

	s.checkpoint(StageConstructed)
	s.checkpoint(StageDispatched)

	result, err := s.parser.ParseStatementsJSON(ctx, files)
	if err != nil {
		s.fail(err, start)

		return nil, err
	}

	s.checkpoint(StageReceived)
	s.checkpoint(StageMaterialized)
	s.checkpoint(StageDelivered)

	if err := s.store.Clear(); err != nil {
		logger.Warn("failed to release staged files", "err", err)
	}

	s.complete("", len(files), start)

	logger.Info("json submission completed", "file_count", len(files), "bank", result.AccountInfo.Bank)

	return result, nil
}

// begin runs the submit guards and flips the session into Uploading.
// The returned snapshot fixes the set and order of files for the attempt.
func (s *Session) begin() ([]*staging.StagedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A submit is a user action, so any prior message clears even when the
	// guards reject it. During an upload the message is already empty.
	s.errorMessage = ""

	if s.uploading {
		return nil, ErrUploadInFlight
	}

	files := s.store.Files()
	if len(files) == 0 {
		return nil, ErrNothingStaged
	}

	s.uploading = true
	s.state = StateUploading
	s.progress = 0

	s.telemetry.IncrementActiveUploads()

	return files, nil
}

func (s *Session) checkpoint(stage Stage) {
	percent := checkpoints[stage]

	s.mu.Lock()
	s.progress = percent
	cb := s.OnProgress
	s.mu.Unlock()

	if cb != nil {
		cb(stage, percent)
	}
}

// complete resolves a successful attempt after staging has been emptied:
// progress reset, back to Idle.
func (s *Session) complete(path string, fileCount int, start time.Time) {
	s.mu.Lock()
	s.progress = 0
	s.state = StateIdle
	s.uploading = false

	if path != "" {
		s.lastDelivered = path
	}
	s.mu.Unlock()

	s.telemetry.AddStagedFiles(-int64(fileCount))
	s.telemetry.DecrementActiveUploads()
	s.telemetry.RecordUpload("success", time.Since(start))
}

// fail resolves a failed attempt: error message set, progress reset, back
// to Idle with the staging store untouched so the user can retry.
func (s *Session) fail(err error, start time.Time) {
	s.mu.Lock()
	s.errorMessage = userMessage(err)
	s.progress = 0
	s.state = StateIdle
	s.uploading = false
	s.mu.Unlock()

	s.telemetry.DecrementActiveUploads()
	s.telemetry.RecordUpload("failure", time.Since(start))
}

// userMessage picks the message shown to the user: the server-reported
// detail when decodable (the transfer client already substituted the
// generic fallback for malformed bodies), else the transport error text.
func userMessage(err error) string {
	var apiErr *transfer.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}

	var transportErr *transfer.TransportError
	if errors.As(err, &transportErr) {
		return fmt.Sprintf("upload failed: %v", transportErr.Err)
	}

	return fmt.Sprintf("upload failed: %v", err)
}

func (s *Session) clearError() {
	s.mu.Lock()
	s.errorMessage = ""
	s.mu.Unlock()
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	s.errorMessage = msg
	s.mu.Unlock()
}
