package filter

import "regexp"

// Severity classifies how a matched pattern must be treated.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
)

// Pattern is one named, compiled detection rule.
type Pattern struct {
	ID       string
	Severity Severity
	re       *regexp.Regexp
}

func mustPattern(id string, sev Severity, expr string) Pattern {
	return Pattern{ID: id, Severity: sev, re: regexp.MustCompile(expr)}
}

// CriticalPatterns always block, regardless of caller policy. Grounded on
// the teacher's looksLikeSecret pattern-list idiom
// (core/pkg/kernel/secret_ref.go), extended to the full critical taxonomy
// spec.md §4.D names.
var CriticalPatterns = []Pattern{
	mustPattern("telegram_bot_token", SeverityCritical, `\b\d{6,10}:[A-Za-z0-9_-]{35}\b`),
	mustPattern("anthropic_api_key", SeverityCritical, `\bsk-ant-[A-Za-z0-9_-]{20,}\b`),
	mustPattern("openai_api_key", SeverityCritical, `\bsk-[A-Za-z0-9]{20,}\b`),
	mustPattern("stripe_live_key", SeverityCritical, `\bsk_live_[A-Za-z0-9]{16,}\b`),
	mustPattern("slack_token", SeverityCritical, `\bxox[baprs]-[A-Za-z0-9-]{10,}\b`),
	mustPattern("github_token", SeverityCritical, `\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
	mustPattern("private_key_pem", SeverityCritical, `-----BEGIN (RSA|EC|OPENSSH|DSA|PGP) PRIVATE KEY-----`),
	mustPattern("totp_seed", SeverityCritical, `\b[A-Z2-7]{32,}={0,6}\b`),
}

// HighPatterns may block depending on caller policy.
var HighPatterns = []Pattern{
	mustPattern("aws_access_key_id", SeverityHigh, `\bAKIA[0-9A-Z]{16}\b`),
	mustPattern("aws_secret_access_key", SeverityHigh, `(?i)aws_secret_access_key\W*[:=]\W*[A-Za-z0-9/+=]{40}`),
	mustPattern("gcp_api_key", SeverityHigh, `\bAIza[0-9A-Za-z_-]{35}\b`),
	mustPattern("bearer_jwt", SeverityHigh, `\b[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`),
	mustPattern("db_connection_string", SeverityHigh, `(?i)\b(postgres|postgresql|mysql|mongodb)://[^\s:]+:[^\s@]+@[^\s/]+`),
	mustPattern("generic_credential_assignment", SeverityHigh, `(?i)\b(PASSWORD|SECRET|TOKEN|KEY|CREDENTIAL)\s*[:=]\s*\S{8,}`),
}

// AllPatterns is every pattern, critical first (critical patterns are
// checked first so a string matching both tiers reports its most severe
// classification).
func AllPatterns() []Pattern {
	out := make([]Pattern, 0, len(CriticalPatterns)+len(HighPatterns))
	out = append(out, CriticalPatterns...)
	out = append(out, HighPatterns...)
	return out
}
