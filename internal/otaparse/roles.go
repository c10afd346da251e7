package otaparse

import "regexp"

// SenderRole is the message author's side of the conversation as
// labeled in the OTA notification layout. It is computed once here;
// downstream classification branches on the tag, never on raw strings.
type SenderRole int

const (
	RoleUnknown SenderRole = iota
	RoleHost
	RoleGuest
	RoleSystem
)

func (r SenderRole) String() string {
	switch r {
	case RoleHost:
		return "HOST"
	case RoleGuest:
		return "GUEST"
	case RoleSystem:
		return "SYSTEM"
	default:
		return "UNKNOWN"
	}
}

// Role label lines as they appear in OTA notification bodies. The
// labels sit on their own line between the author name and the
// message text.
var (
	hostLabelPattern  = regexp.MustCompile(`(?m)^\s*(호스트|공동\s*호스트|[Hh]ost|[Cc]o-[Hh]ost)\s*$`)
	guestLabelPattern = regexp.MustCompile(`(?m)^\s*(게스트|예약자|[Gg]uest)\s*$`)
)

// DetectRole scans the decoded text body for a line-anchored role
// label. The raw label is returned verbatim for audit alongside the
// normalized role.
func DetectRole(text string) (SenderRole, string) {
	if m := hostLabelPattern.FindString(text); m != "" {
		return RoleHost, trimLabel(m)
	}
	if m := guestLabelPattern.FindString(text); m != "" {
		return RoleGuest, trimLabel(m)
	}
	return RoleUnknown, ""
}

func trimLabel(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}
