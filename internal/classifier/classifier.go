package classifier

import (
	"regexp"
	"strings"

	"github.com/xboty/ticketbot/internal/models"
)

// The tables below are deliberately simple keyword/regex matching, kept
// as package-level configuration so categories and patterns can be
// extended without touching the state machine.

type categoryEntry struct {
	flow     models.Flow
	keywords []string
}

// categoryTable is ordered: the first category whose keyword matches
// wins, so more specific categories come first. "deposit bonus" must
// classify as a deposit claim, not a plain bonus claim.
var categoryTable = []categoryEntry{
	{models.FlowDepositClaim, []string{
		"deposit bonus", "deposit", "deposited",
	}},
	{models.FlowGiveawayClaim, []string{
		"won the giveaway", "giveaway win", "won a giveaway", "i won", "winner",
	}},
	{models.FlowBonusClaim, []string{
		"bonus", "free money", "claim reward", "referral reward",
	}},
}

// usernamePatterns are tried in order; the first capturing-group match
// wins. usernameFallback is a last, looser attempt.
var usernamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\busername\s*[:\-]\s*([A-Za-z0-9_.\-]+)`),
	regexp.MustCompile(`(?i)\bmy\s+username\s+is\s+([A-Za-z0-9_.\-]+)`),
	regexp.MustCompile(`(?i)\buser(?:name)?\s+is\s+([A-Za-z0-9_.\-]+)`),
	regexp.MustCompile(`(?i)\b(?:user|account)\s*id\s*[:\-]?\s*([A-Za-z0-9_.\-]+)`),
}

var usernameFallback = regexp.MustCompile(`(?i)\b(?:i\s*am|i'm|im)\s+([A-Za-z0-9_.\-]{3,})`)

var greetingKeywords = []string{
	"hello", "hi", "hey", "good morning", "good evening", "good afternoon",
	"yo", "sup", "hlo",
}

var codeKeywords = []string{
	"code", "referral", "refer", "promo",
}

// knowledgeTriggers map informational question keywords to Knowledge
// Store topics. Independent of the proof-gated flows.
var knowledgeTriggers = []struct {
	topic    string
	keywords []string
}{
	{"leaderboard", []string{"leaderboard", "leader board", "ranking", "rank list"}},
	{"raffle", []string{"raffle", "raffles", "lucky draw"}},
	{"giveaway", []string{"giveaway", "give away"}},
}

// DetectCategory scans the ordered category table and returns the first
// flow whose keyword list has a case-insensitive substring match.
func DetectCategory(text string) models.Flow {
	lower := strings.ToLower(text)
	for _, entry := range categoryTable {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.flow
			}
		}
	}
	return models.FlowNone
}

// ExtractUsername tries the labeled patterns in order, then the loose
// fallback. Returns "" when nothing matches.
func ExtractUsername(text string) string {
	for _, re := range usernamePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	if m := usernameFallback.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// CountAttachments counts file attachments on the message. Embeds and
// links are not attachments.
func CountAttachments(msg models.Inbound) int {
	return len(msg.Attachments)
}

// IsGreeting reports whether the message is small talk. A greeting
// keyword must lead the message or the whole message must be short
// chatter, so "hi, my withdrawal is stuck" does not short-circuit.
func IsGreeting(text string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return false
	}
	words := strings.Fields(trimmed)
	if len(words) > 4 {
		return false
	}
	for _, kw := range greetingKeywords {
		if trimmed == kw || strings.HasPrefix(trimmed, kw+" ") || strings.HasPrefix(trimmed, kw+"!") || strings.HasPrefix(trimmed, kw+",") {
			return true
		}
	}
	return false
}

// MentionsCode reports whether the message references a referral or
// promo code.
func MentionsCode(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range codeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// KnowledgeTopic returns the Knowledge Store topic triggered by the
// message, or "" if none.
func KnowledgeTopic(text string) string {
	lower := strings.ToLower(text)
	for _, trigger := range knowledgeTriggers {
		for _, kw := range trigger.keywords {
			if strings.Contains(lower, kw) {
				return trigger.topic
			}
		}
	}
	return ""
}
