package intent

import (
	"regexp"
	"strings"
)

// rule is one keyword/pattern check. Rules run in declaration order;
// the first hit wins. Complaint signals outrank everything because a
// message that both complains and asks must escalate.
type rule struct {
	intent     Intent
	fine       FineIntent
	confidence float64
	patterns   []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

var rules = []rule{
	{
		intent:     Complaint,
		confidence: 0.85,
		patterns: compile(
			`더럽|더러워|지저분|불결`,
			`고장|작동(이)?\s*안|안\s*돼요|안\s*나와요`,
			`냄새|악취`,
			`시끄럽|소음\s*때문`,
			`환불해|불만|실망|최악`,
			`(?i)filthy|dirty|broken|not working|smell|disgusting|terrible|disappointed`,
		),
	},
	{
		intent:     Cancellation,
		confidence: 0.85,
		patterns: compile(
			`취소`,
			`환불`,
			`(?i)cancel|refund`,
		),
	},
	{
		intent:     ReservationChange,
		confidence: 0.8,
		patterns: compile(
			`날짜.*변경|변경.*날짜|일정.*변경|변경.*일정`,
			`인원.*변경|추가.*인원|인원.*추가`,
			`연장`,
			`(?i)change (the )?(date|dates|reservation)|extend (the )?stay|add (a )?guest`,
		),
	},
	{
		intent:     CheckinQuestion,
		fine:       FineEarlyCheckin,
		confidence: 0.85,
		patterns: compile(
			`얼리\s*체크인|일찍\s*(들어|입실|체크인)`,
			`(?i)early check-?in`,
		),
	},
	{
		intent:     CheckinQuestion,
		fine:       FineLuggageStorage,
		confidence: 0.8,
		patterns: compile(
			`짐.*(맡|보관)`,
			`캐리어.*(맡|보관)`,
			`(?i)(store|leave|drop).*(luggage|bags?|suitcase)|luggage storage`,
		),
	},
	{
		intent:     CheckinQuestion,
		confidence: 0.85,
		patterns: compile(
			`체크인|입실|들어갈\s*수|입장`,
			`(?i)check-?in`,
		),
	},
	{
		intent:     CheckoutQuestion,
		fine:       FineLateCheckout,
		confidence: 0.85,
		patterns: compile(
			`레이트\s*체크아웃|늦게\s*(나가|퇴실|체크아웃)`,
			`(?i)late check-?out`,
		),
	},
	{
		intent:     CheckoutQuestion,
		confidence: 0.85,
		patterns: compile(
			`체크아웃|퇴실`,
			`(?i)check-?out`,
		),
	},
	{
		intent:     PetPolicyQuestion,
		fine:       FinePetFee,
		confidence: 0.85,
		patterns: compile(
			`(반려동물|강아지|고양이|애완).*?(비용|요금|추가)`,
			`(?i)pet fee`,
		),
	},
	{
		intent:     PetPolicyQuestion,
		confidence: 0.85,
		patterns: compile(
			`반려동물|강아지|고양이|애완`,
			`(?i)\bpets?\b|\bdogs?\b|\bcats?\b`,
		),
	},
	{
		intent:     LocationQuestion,
		fine:       FineParking,
		confidence: 0.85,
		patterns: compile(
			`주차`,
			`(?i)parking|park (my|the|a) car`,
		),
	},
	{
		intent:     LocationQuestion,
		confidence: 0.8,
		patterns: compile(
			`주소|위치|찾아가|가는\s*길|오시는\s*길|역에서`,
			`(?i)address|location|how (do|can) (i|we) get|directions`,
		),
	},
	{
		intent:     AmenityQuestion,
		fine:       FineWifi,
		confidence: 0.85,
		patterns: compile(
			`와이파이|인터넷|wifi|Wi-?Fi`,
			`(?i)wi-?fi password`,
		),
	},
	{
		intent:     AmenityQuestion,
		fine:       FineBedding,
		confidence: 0.8,
		patterns: compile(
			`침대|이불|침구|베개`,
			`(?i)beds?\b|bedding|blanket|pillow`,
		),
	},
	{
		intent:     AmenityQuestion,
		fine:       FineBBQ,
		confidence: 0.8,
		patterns: compile(
			`바베큐|바비큐|그릴`,
			`(?i)\bbbq\b|barbecue|grill`,
		),
	},
	{
		intent:     AmenityQuestion,
		confidence: 0.75,
		patterns: compile(
			`수건|어메니티|비품|드라이기|세탁기|건조기|주방|전자레인지|에어컨|난방`,
			`(?i)towels?|amenit|hair ?dryer|washer|dryer|kitchen|microwave|air ?con|heating`,
		),
	},
	{
		intent:     HouseRuleQuestion,
		confidence: 0.8,
		patterns: compile(
			`흡연|금연|담배`,
			`파티|행사`,
			`규칙|이용\s*수칙`,
			`(?i)smoking|smoke|house rules?|quiet hours|party`,
		),
	},
	{
		intent:     ThanksOrGoodReview,
		confidence: 0.75,
		patterns: compile(
			`감사합니다|감사해요|고맙습니다|잘\s*지냈|잘\s*쉬었|좋았어요|최고였`,
			`(?i)thank you|thanks|had a great (stay|time)|wonderful stay`,
		),
	},
}

// questionMarkers suggest the message asks something even when no
// domain keyword fires.
var questionMarkers = regexp.MustCompile(`\?|가능한가요|가능할까요|인가요|건가요|알려주세요|어떻게|문의|(?i:\b(can|could|how|what|when|where|is it possible)\b)`)

// classifyByRules runs the keyword stage over the guest segment plus
// subject and snippet. Returns Other with low confidence when nothing
// fires.
func classifyByRules(guestSegment, subject, snippet string) Outcome {
	haystack := strings.Join([]string{guestSegment, subject, snippet}, "\n")

	for _, r := range rules {
		for _, p := range r.patterns {
			if p.MatchString(haystack) {
				return Outcome{
					Kind:       Confident,
					Intent:     r.intent,
					Fine:       r.fine,
					Confidence: r.confidence,
					Reasons:    []string{"rule matched: " + p.String()},
				}
			}
		}
	}

	if questionMarkers.MatchString(guestSegment) {
		return Outcome{
			Kind:       Confident,
			Intent:     GeneralQuestion,
			Confidence: 0.55,
			Reasons:    []string{"question marker without domain keyword"},
		}
	}

	return Outcome{
		Kind:       Ambiguous,
		Intent:     Other,
		Confidence: 0.3,
		Reasons:    []string{"no rule matched"},
	}
}
