// Package classification resolves an email to a single category from weighted keyword and sender rules.
package classification

import (
	"regexp"
	"strings"
	"sync"

	"flow_server/core/domain"

	"github.com/rs/zerolog"
)

// regexCache compiles each pattern once. Failed patterns are remembered so the warning is logged once.
type regexCache struct {
	mu      sync.RWMutex
	entries map[string]*regexp.Regexp // nil value = invalid pattern
	log     zerolog.Logger
}

func newRegexCache(log zerolog.Logger) *regexCache {
	return &regexCache{entries: make(map[string]*regexp.Regexp), log: log}
}

// get returns the compiled case-insensitive pattern, or nil when it does not compile.
func (c *regexCache) get(ruleID int64, pattern string) *regexp.Regexp {
	c.mu.RLock()
	re, ok := c.entries[pattern]
	c.mu.RUnlock()
	if ok {
		return re
	}

	compiled, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		c.log.Warn().
			Err(err).
			Int64("rule_id", ruleID).
			Str("pattern", pattern).
			Msg("skipping keyword rule with malformed pattern")
		compiled = nil
	}

	c.mu.Lock()
	c.entries[pattern] = compiled
	c.mu.Unlock()
	return compiled
}

// matchInput is the normalized view of an email used by every rule.
type matchInput struct {
	text         string // subject + snippet
	textLower    string
	senderLower  string
	senderDomain string
}

func newMatchInput(email *domain.Email) *matchInput {
	text := email.Subject + "\n" + email.Snippet
	sender := extractAddress(email.FromEmail)
	return &matchInput{
		text:         text,
		textLower:    strings.ToLower(text),
		senderLower:  sender,
		senderDomain: extractDomain(sender),
	}
}

// matchKeyword tests a literal (case-insensitive substring) or regex keyword rule.
// ok is false when the rule is unusable and must be skipped.
func (c *regexCache) matchKeyword(rule *domain.KeywordRule, in *matchInput) (matched, ok bool) {
	if rule.IsRegex {
		re := c.get(rule.ID, rule.Keyword)
		if re == nil {
			return false, false
		}
		return re.MatchString(in.text), true
	}
	keyword := strings.ToLower(strings.TrimSpace(rule.Keyword))
	if keyword == "" {
		return false, false
	}
	return strings.Contains(in.textLower, keyword), true
}

// matchSender tests a sender rule by exact address or domain suffix.
func matchSender(rule *domain.SenderRule, in *matchInput) bool {
	pattern := strings.ToLower(strings.TrimSpace(rule.Pattern))
	if pattern == "" || in.senderLower == "" {
		return false
	}

	switch rule.EffectiveMatchType() {
	case domain.SenderMatchAddress:
		return in.senderLower == pattern
	default:
		pattern = strings.TrimPrefix(pattern, "@")
		return in.senderDomain == pattern || strings.HasSuffix(in.senderDomain, "."+pattern)
	}
}

// extractAddress returns the lowercased bare address, tolerating "Name <addr>" forms.
func extractAddress(from string) string {
	from = strings.TrimSpace(from)
	if i := strings.LastIndex(from, "<"); i >= 0 {
		from = strings.TrimSuffix(strings.TrimSpace(from[i+1:]), ">")
	}
	return strings.ToLower(strings.TrimSpace(from))
}

// extractDomain returns the lowercased domain part of an address.
func extractDomain(address string) string {
	address = extractAddress(address)
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(address[at+1:]))
}
