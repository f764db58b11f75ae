package tools

import (
	"github.com/parleyhq/parley/pkg/models"
)

// BankingDefinitions returns the tool set backing the banking assistant.
// Each definition's schema is the authoritative argument contract enforced
// before any remote call is made.
func BankingDefinitions() []Definition {
	minAmount := 0.01

	return []Definition{
		{
			Name:        "check_balance",
			Description: "Returns the current balance for one of the user's accounts.",
			Schema: &models.JSONSchema{
				Type:  "object",
				Title: "Check Balance",
				Properties: map[string]*models.Property{
					"account_type": {
						Type:        "string",
						Description: "Which account to check",
						Enum:        []any{"checking", "savings", "credit"},
						Default:     "checking",
					},
				},
			},
		},
		{
			Name:        "transfer_funds",
			Description: "Moves money from the user's account to a recipient.",
			Schema: &models.JSONSchema{
				Type:     "object",
				Title:    "Transfer Funds",
				Required: []string{"recipient", "amount"},
				Properties: map[string]*models.Property{
					"recipient": {
						Type:        "string",
						Description: "Name or account identifier of the recipient",
					},
					"amount": {
						Type:        "number",
						Description: "Amount to transfer",
						Minimum:     &minAmount,
					},
					"memo": {
						Type:        "string",
						Description: "Optional note attached to the transfer",
					},
				},
			},
		},
		{
			Name:        "list_transactions",
			Description: "Lists recent transactions on an account.",
			Schema: &models.JSONSchema{
				Type:  "object",
				Title: "List Transactions",
				Properties: map[string]*models.Property{
					"account_type": {
						Type:    "string",
						Enum:    []any{"checking", "savings", "credit"},
						Default: "checking",
					},
					"period": {
						Type:        "string",
						Description: "Reporting period, e.g. last_week, last_month",
						Default:     "last_month",
					},
				},
			},
		},
		{
			Name:        "block_card",
			Description: "Blocks a lost or stolen card immediately.",
			Schema: &models.JSONSchema{
				Type:     "object",
				Title:    "Block Card",
				Required: []string{"card_last_four"},
				Properties: map[string]*models.Property{
					"card_last_four": {
						Type:        "string",
						Description: "Last four digits of the card",
						Pattern:     `^[0-9]{4}$`,
					},
					"reason": {
						Type: "string",
						Enum: []any{"lost", "stolen", "damaged", "other"},
					},
				},
			},
		},
		{
			Name:        "activate_card",
			Description: "Activates a newly issued card.",
			Schema: &models.JSONSchema{
				Type:     "object",
				Title:    "Activate Card",
				Required: []string{"card_last_four"},
				Properties: map[string]*models.Property{
					"card_last_four": {
						Type:    "string",
						Pattern: `^[0-9]{4}$`,
					},
				},
			},
		},
		{
			Name:        "pay_bill",
			Description: "Pays a registered biller from the user's account.",
			Schema: &models.JSONSchema{
				Type:     "object",
				Title:    "Pay Bill",
				Required: []string{"biller", "amount"},
				Properties: map[string]*models.Property{
					"biller": {
						Type:        "string",
						Description: "Registered biller name",
					},
					"amount": {
						Type:    "number",
						Minimum: &minAmount,
					},
				},
			},
		},
		{
			Name:        "request_statement",
			Description: "Requests an account statement for a period.",
			Schema: &models.JSONSchema{
				Type:     "object",
				Title:    "Request Statement",
				Required: []string{"period"},
				Properties: map[string]*models.Property{
					"account_type": {
						Type:    "string",
						Enum:    []any{"checking", "savings", "credit"},
						Default: "checking",
					},
					"period": {
						Type:        "string",
						Description: "Statement period, e.g. 2026-07 or last_quarter",
					},
				},
			},
		},
		{
			Name:        "check_loan_status",
			Description: "Returns the balance and next payment for a loan.",
			Schema: &models.JSONSchema{
				Type:  "object",
				Title: "Check Loan Status",
				Properties: map[string]*models.Property{
					"loan_type": {
						Type: "string",
						Enum: []any{"personal", "auto", "mortgage"},
					},
				},
			},
		},
		{
			Name:        "apply_loan",
			Description: "Starts a loan application for review.",
			Schema: &models.JSONSchema{
				Type:     "object",
				Title:    "Apply for Loan",
				Required: []string{"loan_type", "amount"},
				Properties: map[string]*models.Property{
					"loan_type": {
						Type: "string",
						Enum: []any{"personal", "auto", "mortgage"},
					},
					"amount": {
						Type:        "number",
						Description: "Requested principal",
						Minimum:     &minAmount,
					},
				},
			},
		},
		{
			Name:        "open_account",
			Description: "Opens a new account for the user.",
			Schema: &models.JSONSchema{
				Type:     "object",
				Title:    "Open Account",
				Required: []string{"account_type"},
				Properties: map[string]*models.Property{
					"account_type": {
						Type: "string",
						Enum: []any{"checking", "savings"},
					},
				},
			},
		},
		{
			Name:        "close_account",
			Description: "Closes an existing account and settles its balance.",
			Schema: &models.JSONSchema{
				Type:     "object",
				Title:    "Close Account",
				Required: []string{"account_type"},
				Properties: map[string]*models.Property{
					"account_type": {
						Type: "string",
						Enum: []any{"checking", "savings", "credit"},
					},
				},
			},
		},
		{
			Name:        "change_pin",
			Description: "Starts a PIN change for a card.",
			Schema: &models.JSONSchema{
				Type:     "object",
				Title:    "Change PIN",
				Required: []string{"card_last_four"},
				Properties: map[string]*models.Property{
					"card_last_four": {
						Type:    "string",
						Pattern: `^[0-9]{4}$`,
					},
				},
			},
		},
		{
			Name:        "dispute_transaction",
			Description: "Raises a dispute case for a transaction.",
			Schema: &models.JSONSchema{
				Type:     "object",
				Title:    "Dispute Transaction",
				Required: []string{"transaction_id"},
				Properties: map[string]*models.Property{
					"transaction_id": {
						Type:        "string",
						Description: "Transaction id from the statement",
					},
					"reason": {
						Type: "string",
						Enum: []any{"unauthorized", "duplicate", "wrong_amount", "other"},
					},
				},
			},
		},
		{
			Name:        "get_interest_rates",
			Description: "Returns current interest rates by product.",
			Schema: &models.JSONSchema{
				Type:  "object",
				Title: "Get Interest Rates",
				Properties: map[string]*models.Property{
					"product": {
						Type: "string",
						Enum: []any{"savings", "cd", "personal", "auto", "mortgage"},
					},
				},
			},
		},
		{
			Name:        "find_atm",
			Description: "Finds the nearest ATM or branch.",
			Schema: &models.JSONSchema{
				Type:  "object",
				Title: "Find ATM",
				Properties: map[string]*models.Property{
					"location": {
						Type:        "string",
						Description: "Free-form location, defaults to the user's registered address",
					},
				},
			},
		},
	}
}
