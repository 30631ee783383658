package filter

// InfraSecretPatterns is the smaller inbound variant: only patterns that
// would let an agent accidentally ingest and later leak an infrastructure
// credential from a user-supplied prompt. Deliberately narrower than the
// full outbound tier set.
var InfraSecretPatterns = []Pattern{
	CriticalPatterns[0], // telegram_bot_token
	CriticalPatterns[1], // anthropic_api_key
	CriticalPatterns[2], // openai_api_key
	CriticalPatterns[4], // slack_token
	CriticalPatterns[5], // github_token
	CriticalPatterns[6], // private_key_pem
}

// ScanInbound applies the narrower infra-secret pattern set to
// user-supplied prompt text, so the agent cannot be handed (and later
// leak) an infrastructure credential embedded in a prompt.
func ScanInbound(text string) []Match {
	var matches []Match
	for _, p := range InfraSecretPatterns {
		for _, m := range p.re.FindAllString(text, -1) {
			matches = append(matches, Match{
				PatternID:    p.ID,
				Severity:     p.Severity,
				RedactedForm: redactValue(m),
				matchedText:  m,
				encodedText:  m,
			})
		}
	}
	return dedupMatches(matches)
}

// FilterOutbound is the boundary function every outward-facing text path
// (chat replies, tool results, error messages, audit records) must call
// before the text leaves the process.
func FilterOutbound(text string) (redacted string, blocked bool, matches []Match) {
	redacted, matches = Redact(text)
	blocked = Blocked(matches, false)
	return redacted, blocked, matches
}
