package transfer

// AccountInfo identifies the statement's account as detected by the parser.
type AccountInfo struct {
	Bank          string `json:"bank"`
	AccountNumber string `json:"account_number"`
	AccountType   string `json:"account_type"`
}

// Summary aggregates the parsed transactions.
type Summary struct {
	TotalDebits      float64 `json:"total_debits"`
	TotalCredits     float64 `json:"total_credits"`
	NetMovement      float64 `json:"net_movement"`
	EndingBalance    float64 `json:"ending_balance"`
	TransactionCount int     `json:"transaction_count"`
}

// ParseResult is the JSON response of the parse service's /json variant.
// Transactions keep the parser's column layout, which differs per bank.
type ParseResult struct {
	AccountInfo  AccountInfo      `json:"account_info"`
	Summary      Summary          `json:"summary"`
	Transactions []map[string]any `json:"transactions"`
}
