package transfer

import (
	"context"
	"io"

	"github.com/AshtonFabby/bank-statement-parser/internal/staging"
	"github.com/AshtonFabby/bank-statement-parser/internal/telemetry"
)

// InstrumentedClient wraps a StatementParser with telemetry.
type InstrumentedClient struct {
	client    StatementParser
	telemetry *telemetry.Telemetry
}

// NewInstrumentedClient creates a new instrumented parse client.
func NewInstrumentedClient(client StatementParser, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{
		client:    client,
		telemetry: tel,
	}
}

// Ensure InstrumentedClient implements StatementParser.
var _ StatementParser = (*InstrumentedClient)(nil)

// ParseStatements submits the staged files with telemetry.
func (c *InstrumentedClient) ParseStatements(ctx context.Context, files []*staging.StagedFile) (io.ReadCloser, int64, error) {
	var (
		body io.ReadCloser
		size int64
	)

	err := c.telemetry.InstrumentClientOperation(ctx, "parse_statements", func(ctx context.Context) error {
		var err error
		body, size, err = c.client.ParseStatements(ctx, files)

		return err
	})
	if err != nil {
		return nil, 0, err
	}

	return body, size, nil
}

// ListBanks fetches the supported-bank list with telemetry.
func (c *InstrumentedClient) ListBanks(ctx context.Context) ([]string, error) {
	var banks []string

	err := c.telemetry.InstrumentClientOperation(ctx, "list_banks", func(ctx context.Context) error {
		var err error
		banks, err = c.client.ListBanks(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return banks, nil
}

// ParseStatementsJSON submits the staged files to the JSON variant with telemetry.
func (c *InstrumentedClient) ParseStatementsJSON(ctx context.Context, files []*staging.StagedFile) (*ParseResult, error) {
	var result *ParseResult

	err := c.telemetry.InstrumentClientOperation(ctx, "parse_statements_json", func(ctx context.Context) error {
		var err error
		result, err = c.client.ParseStatementsJSON(ctx, files)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
