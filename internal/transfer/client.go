// Package transfer issues the outbound multipart request to the remote
// bank-statement parsing service and classifies its failures.
package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AshtonFabby/bank-statement-parser/internal/logctx"
	"github.com/AshtonFabby/bank-statement-parser/internal/staging"
)

// FileFieldName is the multipart field every staged file is sent under.
const FileFieldName = "files"

// genericDetail is surfaced when an error body cannot be decoded.
const genericDetail = "the parsing service could not process the request"

// maxErrorBodySize caps how much of an error body we read when decoding.
const maxErrorBodySize = 64 * 1024

// StatementParser is the outbound boundary of the uploader. The session
// drives it; tests swap it for a fake.
type StatementParser interface {
	// ParseStatements submits the staged files and returns the archive
	// body stream plus its length (-1 when unknown). The caller owns the
	// returned reader.
	ParseStatements(ctx context.Context, files []*staging.StagedFile) (io.ReadCloser, int64, error)

	// ParseStatementsJSON submits the staged files to the JSON variant of
	// the parse endpoint and decodes the result.
	ParseStatementsJSON(ctx context.Context, files []*staging.StagedFile) (*ParseResult, error)

	// ListBanks fetches the banks the parsing service supports.
	ListBanks(ctx context.Context) ([]string, error)
}

// Client talks to the parsing service over HTTP.
type Client struct {
	baseURL    string
	parsePath  string
	httpClient *http.Client
}

// NewClient builds a client for the parse endpoint. The timeout bounds the
// whole exchange; there is no cancellation once a submit is in flight, so
// the timeout is the only way a stuck transfer resolves.
func NewClient(baseURL, parsePath string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		parsePath: parsePath,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Ensure Client implements StatementParser.
var _ StatementParser = (*Client)(nil)

// ParseStatements implements StatementParser against the real service.
func (c *Client) ParseStatements(ctx context.Context, files []*staging.StagedFile) (io.ReadCloser, int64, error) {
	resp, err := c.post(ctx, c.baseURL+c.parsePath, "parse_statements", files)
	if err != nil {
		return nil, 0, err
	}

	return resp.Body, resp.ContentLength, nil
}

// ParseStatementsJSON implements StatementParser against the real service.
func (c *Client) ParseStatementsJSON(ctx context.Context, files []*staging.StagedFile) (*ParseResult, error) {
	resp, err := c.post(ctx, c.baseURL+c.parsePath+"/json", "parse_statements_json", files)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	var result ParseResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode parse result: %w", err)
	}

	return &result, nil
}

// ListBanks implements StatementParser against the real service.
func (c *Client) ListBanks(ctx context.Context) ([]string, error) {
	const operation = "list_banks"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/banks", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Operation: operation, Err: err}
	}

	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &APIError{Operation: operation, StatusCode: resp.StatusCode, Detail: decodeErrorDetail(resp.Body)}
	}

	var payload struct {
		SupportedBanks []string `json:"supported_banks"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode bank list: %w", err)
	}

	return payload.SupportedBanks, nil
}

// post sends one multipart request carrying every staged file under the
// shared field name, preserving staging order. The body is streamed through
// a pipe so file bytes are never buffered whole.
func (c *Client) post(ctx context.Context, url, operation string, files []*staging.StagedFile) (*http.Response, error) {
	logger := logctx.LoggerFromContext(ctx).With("operation", operation)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeParts(mw, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())

	logger.Debug("dispatching multipart request", "url", url, "file_count", len(files))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("request failed before a response arrived", "err", err)

		return nil, &TransportError{Operation: operation, Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()

		detail := decodeErrorDetail(resp.Body)
		logger.Error("parse service rejected the request", "status", resp.StatusCode, "detail", detail)

		return nil, &APIError{Operation: operation, StatusCode: resp.StatusCode, Detail: detail}
	}

	return resp, nil
}

func writeParts(mw *multipart.Writer, files []*staging.StagedFile) error {
	for _, f := range files {
		part, err := mw.CreateFormFile(FileFieldName, f.Name)
		if err != nil {
			return fmt.Errorf("failed to create form part: %w", err)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open staged file %s: %w", f.Name, err)
		}

		_, err = io.Copy(part, rc)
		rc.Close()

		if err != nil {
			return fmt.Errorf("failed to write staged file %s: %w", f.Name, err)
		}
	}

	return mw.Close()
}

// decodeErrorDetail pulls the `detail` string out of a JSON error body.
// A malformed or non-JSON body falls back to the generic message rather
// than propagating a decode failure.
func decodeErrorDetail(body io.Reader) string {
	var payload struct {
		Detail string `json:"detail"`
	}

	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	if err != nil {
		return genericDetail
	}

	if err := json.Unmarshal(raw, &payload); err != nil || payload.Detail == "" {
		return genericDetail
	}

	return payload.Detail
}
