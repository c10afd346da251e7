// Package action maps classified intents to operator action decisions.
// The decision table is total over the closed intent set and pure:
// same inputs, same decision.
package action

import (
	"fmt"

	"github.com/stayops/concierge/internal/intent"
)

// Type is the operator-facing outcome for a message.
type Type string

const (
	AutoReply           Type = "AUTO_REPLY"
	DraftOnly           Type = "DRAFT_ONLY"
	StaffReviewRequired Type = "STAFF_REVIEW_REQUIRED"
	StaffAlert          Type = "STAFF_ALERT"
	NoAction            Type = "NO_ACTION"
)

// Decision is the decider's full output.
type Decision struct {
	Action          Type
	Reason          string
	EscalationLevel int // 0 none, 1 review, 2 alert
	AllowAutoSend   bool
	BlockAutoReply  bool
}

// autoReplyIntents are information questions a complete property
// profile can answer without judgment calls.
var autoReplyIntents = map[intent.Intent]bool{
	intent.CheckinQuestion:   true,
	intent.CheckoutQuestion:  true,
	intent.LocationQuestion:  true,
	intent.AmenityQuestion:   true,
	intent.HouseRuleQuestion: true,
	intent.PetPolicyQuestion: true,
}

// Decide applies the decision rules in order; the first match wins.
func Decide(outcome intent.Outcome) Decision {
	primary := outcome.Intent

	// 1) Low confidence or ambiguity: a human picks it up. Drafting
	//    is still allowed so the operator starts from something.
	if outcome.IsAmbiguous() || outcome.Confidence < 0.5 {
		return Decision{
			Action: StaffReviewRequired,
			Reason: fmt.Sprintf("intent=%s, fine=%s, confidence=%.2f, outcome=%s",
				primary, outcome.Fine, outcome.Confidence, outcome.Kind),
			EscalationLevel: 0,
		}
	}

	// 2) Complaints alert staff immediately.
	if primary == intent.Complaint {
		return Decision{
			Action:          StaffAlert,
			Reason:          "COMPLAINT intent requires immediate staff attention",
			EscalationLevel: 2,
		}
	}

	// 3) Reservation changes and cancellations always get human review.
	if primary == intent.ReservationChange || primary == intent.Cancellation {
		return Decision{
			Action:          StaffReviewRequired,
			Reason:          fmt.Sprintf("%s affects the reservation; human review required", primary),
			EscalationLevel: 1,
		}
	}

	// 4) Information questions the profile answers.
	if autoReplyIntents[primary] {
		return Decision{
			Action:        AutoReply,
			Reason:        fmt.Sprintf("%s is an information question; auto-reply permitted", primary),
			AllowAutoSend: true,
		}
	}

	// 5) Gratitude needs no reply at all.
	if primary == intent.ThanksOrGoodReview {
		return Decision{
			Action:         NoAction,
			Reason:         "gratitude or positive feedback; no reply needed",
			BlockAutoReply: true,
		}
	}

	// 6) General questions: draft for the operator.
	if primary == intent.GeneralQuestion {
		return Decision{
			Action: DraftOnly,
			Reason: "GENERAL_QUESTION; draft only, operator reviews",
		}
	}

	// 7) Everything else: draft for the operator.
	return Decision{
		Action: DraftOnly,
		Reason: fmt.Sprintf("%s; draft only, operator reviews", primary),
	}
}
