package engine

import (
	"fmt"
	"strings"

	"github.com/parleyhq/parley/pkg/models"
)

// BankingCatalog returns the intent catalog for the banking assistant.
// Money-moving intents require explicit confirmation before their tool runs.
func BankingCatalog() models.IntentCatalog {
	return models.IntentCatalog{
		"banking.balance.check": {
			Name:             "banking.balance.check",
			Description:      "Check the balance of an account",
			RequiredEntities: []string{},
			ToolName:         "check_balance",
		},
		"banking.transfer.money": {
			Name:                 "banking.transfer.money",
			Description:          "Transfer money to a recipient",
			RequiredEntities:     []string{"recipient", "amount"},
			ToolName:             "transfer_funds",
			RequiresConfirmation: true,
		},
		"banking.transactions.view": {
			Name:             "banking.transactions.view",
			Description:      "View recent transactions",
			RequiredEntities: []string{},
			ToolName:         "list_transactions",
		},
		"banking.card.block": {
			Name:                 "banking.card.block",
			Description:          "Block a lost or stolen card",
			RequiredEntities:     []string{"card_last_four"},
			ToolName:             "block_card",
			RequiresConfirmation: true,
		},
		"banking.card.activate": {
			Name:             "banking.card.activate",
			Description:      "Activate a newly issued card",
			RequiredEntities: []string{"card_last_four"},
			ToolName:         "activate_card",
		},
		"banking.bill.pay": {
			Name:                 "banking.bill.pay",
			Description:          "Pay a registered biller",
			RequiredEntities:     []string{"biller", "amount"},
			ToolName:             "pay_bill",
			RequiresConfirmation: true,
		},
		"banking.statement.request": {
			Name:             "banking.statement.request",
			Description:      "Request an account statement",
			RequiredEntities: []string{"period"},
			ToolName:         "request_statement",
		},
		"banking.loan.check": {
			Name:             "banking.loan.check",
			Description:      "Check a loan balance or status",
			RequiredEntities: []string{},
			ToolName:         "check_loan_status",
		},
		"banking.loan.apply": {
			Name:             "banking.loan.apply",
			Description:      "Start a loan application",
			RequiredEntities: []string{"loan_type", "amount"},
			ToolName:         "apply_loan",
		},
		"banking.account.open": {
			Name:             "banking.account.open",
			Description:      "Open a new account",
			RequiredEntities: []string{"account_type"},
			ToolName:         "open_account",
		},
		"banking.account.close": {
			Name:                 "banking.account.close",
			Description:          "Close an existing account",
			RequiredEntities:     []string{"account_type"},
			ToolName:             "close_account",
			RequiresConfirmation: true,
		},
		"banking.pin.change": {
			Name:             "banking.pin.change",
			Description:      "Change the PIN on a card",
			RequiredEntities: []string{"card_last_four"},
			ToolName:         "change_pin",
		},
		"banking.dispute.transaction": {
			Name:             "banking.dispute.transaction",
			Description:      "Dispute a transaction",
			RequiredEntities: []string{"transaction_id"},
			ToolName:         "dispute_transaction",
		},
		"banking.interest.rates": {
			Name:             "banking.interest.rates",
			Description:      "Look up current interest rates",
			RequiredEntities: []string{},
			ToolName:         "get_interest_rates",
		},
		"banking.atm.find": {
			Name:             "banking.atm.find",
			Description:      "Find the nearest ATM or branch",
			RequiredEntities: []string{},
			ToolName:         "find_atm",
		},
		"smalltalk.greeting": {
			Name:             "smalltalk.greeting",
			Description:      "Greeting and chit-chat",
			RequiredEntities: []string{},
		},
	}
}

// entityPrompts holds the clarification question asked when a required entity
// is still missing.
var entityPrompts = map[string]string{
	"recipient":      "Who would you like to send the money to?",
	"amount":         "How much would you like to send?",
	"card_last_four": "What are the last four digits of the card?",
	"biller":         "Which biller would you like to pay?",
	"period":         "For which period?",
	"account_type":   "Which account: checking, savings, or credit?",
	"loan_type":      "What kind of loan: personal, auto, or mortgage?",
	"transaction_id": "Which transaction is this about? The id is on your statement.",
}

func entityPrompt(name string) string {
	if prompt, ok := entityPrompts[name]; ok {
		return prompt
	}

	return fmt.Sprintf("Could you tell me the %s?", strings.ReplaceAll(name, "_", " "))
}

// confirmationQuestion phrases the yes/no question asked before a sensitive
// tool runs, built from the entities collected so far.
func confirmationQuestion(spec models.IntentSpec, entities map[string]any) string {
	switch spec.Name {
	case "banking.transfer.money":
		if amount, ok := asAmount(entities["amount"]); ok {
			return fmt.Sprintf("You're about to transfer $%.2f to %v. Shall I proceed? (yes/no)",
				amount, entities["recipient"])
		}

		return fmt.Sprintf("You're about to transfer money to %v. Shall I proceed? (yes/no)",
			entities["recipient"])
	case "banking.bill.pay":
		if amount, ok := asAmount(entities["amount"]); ok {
			return fmt.Sprintf("You're about to pay $%.2f to %v. Shall I proceed? (yes/no)",
				amount, entities["biller"])
		}

		return fmt.Sprintf("You're about to pay a bill with %v. Shall I proceed? (yes/no)",
			entities["biller"])
	case "banking.card.block":
		return fmt.Sprintf("You're about to block the card ending in %v. This cannot be undone here. Proceed? (yes/no)",
			entities["card_last_four"])
	case "banking.account.close":
		return fmt.Sprintf("You're about to close your %v account. Shall I proceed? (yes/no)",
			entities["account_type"])
	}

	return fmt.Sprintf("Please confirm: proceed with %s? (yes/no)", spec.Description)
}

func asAmount(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}

	return 0, false
}
