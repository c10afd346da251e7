package otaparse

import (
	"regexp"
	"strings"
)

// ctaPatterns mark the start of platform boilerplate below the guest
// message: pre-approval prompts, reply-deadline nags, FAQ and footer
// regions. Everything from the earliest match onward is not guest text.
var ctaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`예약\s*사전\s*승인`),
	regexp.MustCompile(`24시간\s*이내에\s*답장해주세요`),
	regexp.MustCompile(`자주\s*묻는\s*질문`),
	regexp.MustCompile(`고객지원`),
	regexp.MustCompile(`Airbnb Ireland UC`),
	regexp.MustCompile(`(?i)pre-approve or decline`),
	regexp.MustCompile(`(?i)respond within 24 hours`),
	regexp.MustCompile(`(?i)frequently asked questions`),
	regexp.MustCompile(`(?i)visit the help center`),
}

// profileJoinedPattern matches the "joined (year)" label on the guest
// profile block that precedes the message body.
var profileJoinedPattern = regexp.MustCompile(`(?i)^(joined in \d{4}|가입 연도.*)$`)

// profileLocationPattern matches a stand-alone "City, Country" or bare
// country line in the profile block.
var profileLocationPattern = regexp.MustCompile(`(?i)^[\p{L}\w\- ]+,\s*[\p{L}\w ]+$`)

// bareCountryLines are locality lines that appear alone in profile
// blocks. Kept as an explicit list; a general country gazetteer would
// over-match guest text.
var bareCountryLines = map[string]bool{
	"South Korea":   true,
	"Korea":         true,
	"대한민국":          true,
	"United States": true,
	"Japan":         true,
	"日本":            true,
}

// ExtractGuestSegment isolates the guest-authored text from the
// plain-text body of an OTA notification email. Returns "" when no
// guest text can be located.
//
// Strategy, in order:
//  1. Strip tracking tokens and platform URLs.
//  2. Find the profile anchor (joined-year label or locality line) and
//     collect from the first non-empty line after it until the first
//     CTA marker, collapsing blank-line runs.
//  3. Otherwise cut at the earliest CTA marker and return the last
//     non-empty paragraph block.
func ExtractGuestSegment(textBody string) string {
	if textBody == "" {
		return ""
	}

	text := normalizeNewlines(textBody)
	lines := stripNoiseLines(strings.Split(text, "\n"))

	if seg := extractAfterProfileBlock(lines); seg != "" {
		return seg
	}

	beforeCTA := cutBeforeCTA(strings.Join(lines, "\n"))
	return lastNonEmptyBlock(beforeCTA)
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// stripNoiseLines removes lines that are never guest text: tracking
// tokens and stand-alone platform URLs. Blank lines survive as block
// separators.
func stripNoiseLines(lines []string) []string {
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		s := strings.TrimSpace(line)
		if s == "" {
			cleaned = append(cleaned, "")
			continue
		}
		if strings.HasPrefix(s, "%opentrack%") {
			continue
		}
		if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
			if strings.Contains(s, "airbnb.co.kr") || strings.Contains(s, "airbnb.com") {
				continue
			}
		}
		cleaned = append(cleaned, line)
	}
	return cleaned
}

// cutBeforeCTA truncates text at the earliest CTA pattern match.
func cutBeforeCTA(text string) string {
	earliest := -1
	for _, p := range ctaPatterns {
		if loc := p.FindStringIndex(text); loc != nil {
			if earliest < 0 || loc[0] < earliest {
				earliest = loc[0]
			}
		}
	}
	if earliest < 0 {
		return text
	}
	return text[:earliest]
}

// lastNonEmptyBlock returns the final run of consecutive non-empty
// lines, trimmed and joined.
func lastNonEmptyBlock(text string) string {
	var blocks [][]string
	var current []string

	for _, raw := range strings.Split(text, "\n") {
		if strings.TrimSpace(raw) != "" {
			current = append(current, strings.TrimSpace(raw))
		} else if len(current) > 0 {
			blocks = append(blocks, current)
			current = nil
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	if len(blocks) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(blocks[len(blocks)-1], "\n"))
}

// extractAfterProfileBlock finds the guest profile anchor and collects
// the message that follows it, stopping at the first CTA line. Blank
// runs inside the message collapse to a single separator so paragraph
// structure survives.
func extractAfterProfileBlock(lines []string) string {
	base := -1

	for i, line := range lines {
		if profileJoinedPattern.MatchString(strings.TrimSpace(line)) {
			base = i
			break
		}
	}
	if base < 0 {
		for i, line := range lines {
			s := strings.TrimSpace(line)
			if bareCountryLines[s] {
				base = i
				break
			}
		}
	}
	if base < 0 {
		for i, line := range lines {
			s := strings.TrimSpace(line)
			// "Changwon-si, South Korea" style locality lines. Short
			// lines only — guest sentences with commas are longer.
			if len(s) > 0 && len(s) <= 40 && strings.Contains(s, ",") && profileLocationPattern.MatchString(s) {
				base = i
				break
			}
		}
	}
	if base < 0 {
		return ""
	}

	// First non-empty line after the anchor starts the message.
	j := base + 1
	for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
		j++
	}
	if j >= len(lines) {
		return ""
	}

	var collected []string
	for k := j; k < len(lines); k++ {
		line := strings.TrimSpace(lines[k])
		if isCTALine(line) {
			break
		}
		collected = append(collected, line)
	}

	// Collapse blank runs; drop leading/trailing blanks.
	var result []string
	prevEmpty := false
	for _, line := range collected {
		if line == "" {
			if !prevEmpty && len(result) > 0 {
				result = append(result, "")
			}
			prevEmpty = true
		} else {
			result = append(result, line)
			prevEmpty = false
		}
	}
	for len(result) > 0 && result[len(result)-1] == "" {
		result = result[:len(result)-1]
	}

	return strings.TrimSpace(strings.Join(result, "\n"))
}

func isCTALine(line string) bool {
	for _, p := range ctaPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}
