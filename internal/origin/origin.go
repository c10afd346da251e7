// Package origin decides who authored an OTA notification and whether
// it needs a reply. Rule-based and deterministic; no external calls.
package origin

import (
	"strings"

	"github.com/stayops/concierge/internal/otaparse"
)

// Actor is the message author's side of the conversation.
type Actor string

const (
	ActorGuest   Actor = "GUEST"
	ActorHost    Actor = "HOST"
	ActorSystem  Actor = "SYSTEM"
	ActorUnknown Actor = "UNKNOWN"
)

// Actionability is what the operator owes the message.
type Actionability string

const (
	NeedsReply           Actionability = "NEEDS_REPLY"
	OutgoingCopy         Actionability = "OUTGOING_COPY"
	SystemNotification   Actionability = "SYSTEM_NOTIFICATION"
	FYI                  Actionability = "FYI"
	ActionabilityUnknown Actionability = "UNKNOWN"
)

// Result is the origin classification for one message.
type Result struct {
	Actor         Actor
	Actionability Actionability
	Confidence    float64
	Reasons       []string
	RawRoleLabel  string
}

// systemKeywords flag reservation lifecycle and review notifications
// that no human authored.
var systemKeywords = []string{
	"예약이 확정되었습니다",
	"예약이 취소되었습니다",
	"리뷰를 남겨보세요",
	"리뷰를 남기실래요",
	"체크인까지 남은 시간",
	"새로운 알림",
	"reservation confirmed",
	"reservation canceled",
	"reservation cancelled",
	"leave a review",
	"time until check-in",
}

// Classify applies the origin rules in priority order. The parser's
// pre-detected role wins outright; system-notification keywords come
// next; a role label found in the body applies at lower confidence;
// anything else is unknown FYI.
func Classify(text, subject, snippet string, role otaparse.SenderRole, rawLabel string) Result {
	// 1) Role resolved during parsing.
	switch role {
	case otaparse.RoleHost:
		return Result{
			Actor:         ActorHost,
			Actionability: OutgoingCopy,
			Confidence:    0.95,
			Reasons:       []string{"role label resolved during parsing"},
			RawRoleLabel:  rawLabel,
		}
	case otaparse.RoleGuest:
		return Result{
			Actor:         ActorGuest,
			Actionability: NeedsReply,
			Confidence:    0.95,
			Reasons:       []string{"role label resolved during parsing"},
			RawRoleLabel:  rawLabel,
		}
	}

	// 2) System notification keywords in subject or body.
	if looksLikeSystemNotification(text, subject, snippet) {
		return Result{
			Actor:         ActorSystem,
			Actionability: SystemNotification,
			Confidence:    0.9,
			Reasons:       []string{"reservation/review/notification keyword matched"},
		}
	}

	// 3) Role label present in the body but missed at parse time.
	if bodyRole, label := otaparse.DetectRole(text); bodyRole != otaparse.RoleUnknown {
		if bodyRole == otaparse.RoleHost {
			return Result{
				Actor:         ActorHost,
				Actionability: OutgoingCopy,
				Confidence:    0.9,
				Reasons:       []string{"host role label found in body"},
				RawRoleLabel:  label,
			}
		}
		return Result{
			Actor:         ActorGuest,
			Actionability: NeedsReply,
			Confidence:    0.9,
			Reasons:       []string{"guest role label found in body"},
			RawRoleLabel:  label,
		}
	}

	// 4) Conservative default until more rules accumulate.
	return Result{
		Actor:         ActorUnknown,
		Actionability: FYI,
		Confidence:    0.3,
		Reasons:       []string{"no role label or system keyword detected"},
	}
}

func looksLikeSystemNotification(text, subject, snippet string) bool {
	haystack := strings.ToLower(subject + "\n" + snippet + "\n" + text)
	for _, kw := range systemKeywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
