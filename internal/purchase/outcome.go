package purchase

import (
	"fmt"
	"time"

	"token-sale-go/internal/models"
	"token-sale-go/internal/sale"
)

// OutcomeKind tags the result of Execute.
type OutcomeKind string

const (
	OutcomeConfirmed        OutcomeKind = "confirmed"
	OutcomeFailed           OutcomeKind = "failed"
	OutcomeTimedOut         OutcomeKind = "timed_out"
	OutcomeRejected         OutcomeKind = "rejected"
	OutcomeThrottled        OutcomeKind = "throttled"
	OutcomeSubmissionFailed OutcomeKind = "submission_failed"
	OutcomeBusy             OutcomeKind = "busy"
)

// Outcome of one purchase attempt. Which fields are set depends on Kind:
// Reason for Rejected, Remaining for Throttled, Submission for
// SubmissionFailed, TransactionId for Confirmed, Failed and TimedOut, and
// BlockNumber for Confirmed.
type Outcome struct {
	Kind          OutcomeKind
	Reason        sale.Reason
	Remaining     time.Duration
	Submission    Submission
	TransactionId string
	BlockNumber   uint64
	Attempt       models.PurchaseAttempt
}

// Submitted reports whether the attempt reached the chain and has a tracker record.
func (o Outcome) Submitted() bool {
	return o.TransactionId != ""
}

// Message renders the outcome for the buyer.
func (o Outcome) Message(s models.SaleSnapshot) string {
	switch o.Kind {
	case OutcomeConfirmed:
		return fmt.Sprintf("Purchased %s tokens in block %d", sale.FormatTokens(o.Attempt.TokenAmount), o.BlockNumber)
	case OutcomeFailed:
		return "Transaction failed"
	case OutcomeTimedOut:
		return "Transaction timeout - please check the block explorer for status"
	case OutcomeRejected:
		return o.Reason.Message(s)
	case OutcomeThrottled:
		return fmt.Sprintf("Please wait %d seconds before making another purchase", int((o.Remaining+time.Second-1)/time.Second))
	case OutcomeSubmissionFailed:
		return o.Submission.Message
	case OutcomeBusy:
		return "A purchase is already in progress"
	default:
		return ""
	}
}
