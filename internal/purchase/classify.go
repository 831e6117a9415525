package purchase

import (
	"context"
	"errors"
	"strings"

	"token-sale-go/internal/sale"
)

// SubmissionKind classifies why the submit collaborator refused a purchase.
type SubmissionKind string

const (
	KindUserRejected      SubmissionKind = "user_rejected"
	KindInsufficientFunds SubmissionKind = "insufficient_funds"
	KindNodeError         SubmissionKind = "node_error"
	KindSaleRule          SubmissionKind = "sale_rule"
	KindUnclassified      SubmissionKind = "unclassified"
)

const (
	codeUserRejected  = 4001
	codeInternalError = -32603
)

// Submission describes a failed submission. Message is ready for display;
// for unclassified errors it is the raw error text.
type Submission struct {
	Kind    SubmissionKind
	Message string
	Code    int
	// SaleReason is set for KindSaleRule when the contract reverted on a sale rule.
	SaleReason sale.Reason
}

type errorCoder interface {
	ErrorCode() int
}

var revertReasons = []struct {
	substr string
	reason sale.Reason
}{
	{"sale has not started", sale.ReasonNotStarted},
	{"sale has ended", sale.ReasonEnded},
	{"sold out", sale.ReasonSoldOut},
	{"minimum contribution", sale.ReasonBelowMinimum},
	{"maximum contribution", sale.ReasonAboveMaximum},
	{"not enough tokens", sale.ReasonInsufficientSupply},
}

// Classify maps a submission error onto a SubmissionKind using the JSON-RPC
// error code when there is one and the message text otherwise.
func Classify(err error) Submission {
	if err == nil {
		return Submission{}
	}

	var code int
	var coder errorCoder
	if errors.As(err, &coder) {
		code = coder.ErrorCode()
	}
	msg := strings.ToLower(err.Error())

	switch {
	case code == codeUserRejected || strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied"):
		return Submission{Kind: KindUserRejected, Code: code, Message: "Transaction rejected by user"}
	case code == codeInternalError:
		return Submission{Kind: KindNodeError, Code: code, Message: "Internal JSON-RPC error"}
	case strings.Contains(msg, "insufficient funds"):
		return Submission{Kind: KindInsufficientFunds, Code: code, Message: "Insufficient funds for transaction"}
	}

	for _, r := range revertReasons {
		if strings.Contains(msg, r.substr) {
			return Submission{Kind: KindSaleRule, Code: code, SaleReason: r.reason, Message: saleRuleMessage(r.reason)}
		}
	}

	switch {
	case strings.Contains(msg, "gas"):
		return Submission{Kind: KindNodeError, Code: code, Message: "Gas estimation failed"}
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"),
		strings.Contains(msg, "timeout"), errors.Is(err, context.DeadlineExceeded):
		return Submission{Kind: KindNodeError, Code: code, Message: "Network error occurred"}
	}
	return Submission{Kind: KindUnclassified, Code: code, Message: err.Error()}
}

func saleRuleMessage(r sale.Reason) string {
	switch r {
	case sale.ReasonNotStarted:
		return "Token sale has not started yet"
	case sale.ReasonEnded:
		return "Token sale has ended"
	case sale.ReasonSoldOut:
		return "Token sale is sold out"
	case sale.ReasonBelowMinimum:
		return "Contribution is below the minimum"
	case sale.ReasonAboveMaximum:
		return "Contribution is above the maximum"
	default:
		return "Not enough tokens left for this purchase"
	}
}
