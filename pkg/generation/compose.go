package generation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/parleyhq/parley/pkg/models"
)

// Compose phrases a reply locally without the generation service. The output
// is deterministic for a given context, which keeps degraded conversations
// testable and repeatable.
func Compose(genCtx Context) string {
	if genCtx.Question != "" {
		return genCtx.Question
	}

	switch genCtx.Stage {
	case models.StageCancelled:
		return "Okay, I won't go ahead with that. Is there anything else I can help you with?"
	case models.StageFailed:
		return "I'm sorry, I couldn't complete that request right now. Please try again in a few minutes."
	case models.StageResponding, models.StageDone:
		return composeResults(genCtx)
	}

	if genCtx.Intent == "" {
		return "I'm sorry, I didn't quite get that. Could you rephrase what you'd like to do?"
	}

	return "One moment while I work on that."
}

func composeResults(genCtx Context) string {
	if len(genCtx.ToolResults) == 0 {
		return "Done. Is there anything else I can help you with?"
	}

	parts := make([]string, 0, len(genCtx.ToolResults))
	for _, record := range sortedRecords(genCtx.ToolResults) {
		parts = append(parts, composeRecord(genCtx, record))
	}

	return strings.Join(parts, " ")
}

// sortedRecords orders results by call id so multi-call replies are stable.
func sortedRecords(results map[string]models.ToolInvocationRecord) []models.ToolInvocationRecord {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	records := make([]models.ToolInvocationRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, results[id])
	}

	return records
}

func composeRecord(genCtx Context, record models.ToolInvocationRecord) string {
	switch record.Outcome {
	case models.ToolOutcomeCircuitOpen:
		return "That service is temporarily unavailable, so I couldn't finish this request. Please try again shortly."
	case models.ToolOutcomeError:
		return "I wasn't able to complete that request. Please try again later."
	case models.ToolOutcomeFallback:
		return composeSuccess(genCtx, record) + " Please note this may not reflect the very latest activity."
	}

	return composeSuccess(genCtx, record)
}

func composeSuccess(genCtx Context, record models.ToolInvocationRecord) string {
	switch record.ToolName {
	case "check_balance":
		if balance, ok := asNumber(record.Result["balance"]); ok {
			account := stringOr(genCtx.Entities["account_type"], "checking")

			return fmt.Sprintf("Your %s account balance is $%.2f.", account, balance)
		}

		return "I couldn't retrieve your balance right now."
	case "transfer_funds":
		amount, hasAmount := asNumber(genCtx.Entities["amount"])
		recipient := stringOr(genCtx.Entities["recipient"], "the recipient")

		if hasAmount {
			return fmt.Sprintf("Done. I've transferred $%.2f to %s.", amount, recipient)
		}

		return fmt.Sprintf("Done. The transfer to %s went through.", recipient)
	case "list_transactions":
		if count, ok := asNumber(record.Result["count"]); ok {
			return fmt.Sprintf("I found %d recent transactions on your account.", int(count))
		}

		return "Here are your recent transactions."
	case "block_card":
		return "Your card has been blocked. A replacement will be sent to your address on file."
	case "activate_card":
		return "Your card is now active and ready to use."
	case "pay_bill":
		amount, hasAmount := asNumber(genCtx.Entities["amount"])
		biller := stringOr(genCtx.Entities["biller"], "your biller")

		if hasAmount {
			return fmt.Sprintf("Paid. I've sent $%.2f to %s.", amount, biller)
		}

		return fmt.Sprintf("Paid. Your bill with %s is settled.", biller)
	case "request_statement":
		period := stringOr(genCtx.Entities["period"], "the requested period")

		return fmt.Sprintf("Your statement for %s is on its way to your registered email.", period)
	case "check_loan_status":
		if outstanding, ok := asNumber(record.Result["outstanding"]); ok {
			return fmt.Sprintf("Your outstanding loan balance is $%.2f.", outstanding)
		}

		return "I've looked up your loan details."
	case "apply_loan":
		if ref := stringOr(record.Result["application_id"], ""); ref != "" {
			return fmt.Sprintf("Your loan application has been submitted. Your reference is %s.", ref)
		}

		return "Your loan application has been submitted. An advisor will be in touch."
	case "open_account":
		account := stringOr(genCtx.Entities["account_type"], "new")

		return fmt.Sprintf("Your %s account has been opened.", account)
	case "close_account":
		account := stringOr(genCtx.Entities["account_type"], "selected")

		return fmt.Sprintf("Your %s account has been closed. Any remaining balance will be sent to you.", account)
	case "change_pin":
		return "I've started the PIN change. Check your registered phone for a verification code."
	case "dispute_transaction":
		if ref := stringOr(record.Result["case_id"], ""); ref != "" {
			return fmt.Sprintf("I've raised a dispute for that transaction. Your case number is %s.", ref)
		}

		return "I've raised a dispute for that transaction. Our team will review it shortly."
	case "get_interest_rates":
		if rate, ok := asNumber(record.Result["savings_rate"]); ok {
			return fmt.Sprintf("Our savings rate is currently %.2f%% APY.", rate)
		}

		return "Here are our current interest rates."
	case "find_atm":
		if nearest := stringOr(record.Result["nearest"], ""); nearest != "" {
			return fmt.Sprintf("The nearest ATM is at %s.", nearest)
		}

		return "I've found ATMs near you."
	}

	return "Done. Is there anything else I can help you with?"
}

func asNumber(value any) (float64, bool) {
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

func stringOr(value any, fallback string) string {
	if str, ok := value.(string); ok && str != "" {
		return str
	}

	return fallback
}
