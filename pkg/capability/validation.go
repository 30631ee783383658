package capability

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/avivsinai/telclaude-sub003/pkg/filter"
	"github.com/avivsinai/telclaude-sub003/pkg/memory"
)

var (
	htmlTagRe       = regexp.MustCompile(`(?i)<\s*/?\s*[a-z][a-z0-9]*[^>]*>`)
	handlebarsRe    = regexp.MustCompile(`\{\{.*?\}\}`)
	scriptOrJSURLRe = regexp.MustCompile(`(?i)<script|javascript:`)
	rolePrefixRe    = regexp.MustCompile(`(?im)^\s*(system|assistant|user)\s*:`)
)

var forbiddenPhrases = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard prior instructions",
}

// ErrForbiddenContent is returned when memory content fails input
// validation (HTML, prompt-injection phrasing, or a detected secret).
type ErrForbiddenContent struct {
	Reason string
}

func (e *ErrForbiddenContent) Error() string { return e.Reason }

// ValidateMemoryContent enforces spec.md §4.G's input-validation rules
// for any text destined for the memory store: size caps, HTML/XML ban,
// prompt-injection phrase ban, and the secret filter.
func ValidateMemoryContent(content string) error {
	if len(content) > memory.MaxContentLen {
		return &ErrForbiddenContent{Reason: "content exceeds maximum length"}
	}
	if htmlTagRe.MatchString(content) || scriptOrJSURLRe.MatchString(content) {
		return &ErrForbiddenContent{Reason: "html-in-memory"}
	}
	if handlebarsRe.MatchString(content) {
		return &ErrForbiddenContent{Reason: "forbidden-pattern"}
	}
	if rolePrefixRe.MatchString(content) {
		return &ErrForbiddenContent{Reason: "forbidden-pattern"}
	}
	lower := strings.ToLower(content)
	for _, phrase := range forbiddenPhrases {
		if strings.Contains(lower, phrase) {
			return &ErrForbiddenContent{Reason: "forbidden-pattern"}
		}
	}
	if matches := filter.ScanInbound(content); len(matches) > 0 {
		return &ErrForbiddenContent{Reason: "infra-secret-detected"}
	}
	return nil
}

func validateID(id string) error {
	if id == "" || len(id) > memory.MaxIDLen {
		return &ErrForbiddenContent{Reason: "oversize-entry"}
	}
	return nil
}

func validateChatID(chatID string) error {
	if len(chatID) > memory.MaxChatIDLen {
		return &ErrForbiddenContent{Reason: "oversize-entry"}
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return memory.DefaultLimit
	}
	if limit > memory.MaxLimit {
		return memory.MaxLimit
	}
	return limit
}

// Validator compiles and caches per-capability JSON schemas for request
// bodies that benefit from structural validation beyond the ad hoc
// checks above (provider.proxy, deliver-local-file). Grounded on
// core/pkg/firewall/firewall.go's AllowTool compile-once-cache pattern.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles the fixed set of capability request schemas.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*jsonschema.Schema)}
	for name, raw := range requestSchemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://internal.local/capability/%s.schema.json", name)
		if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("capability: load schema %s: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("capability: compile schema %s: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

// Validate checks doc (already unmarshaled into map[string]any) against
// the named schema. A name with no registered schema is a no-op pass.
func (v *Validator) Validate(name string, doc any) error {
	schema, ok := v.schemas[name]
	if !ok || schema == nil {
		return nil
	}
	if err := schema.Validate(doc); err != nil {
		return &ErrForbiddenContent{Reason: "invalid-argument: " + err.Error()}
	}
	return nil
}

var requestSchemas = map[string]string{
	"provider.proxy": `{
		"type": "object",
		"required": ["url", "method"],
		"properties": {
			"url": {"type": "string", "minLength": 1},
			"method": {"type": "string", "enum": ["GET", "POST", "PUT", "DELETE", "PATCH"]},
			"headers": {"type": "object"},
			"body": {"type": "string"}
		}
	}`,
	"deliver-local-file": `{
		"type": "object",
		"required": ["provider", "filepath", "filename", "mimeType"],
		"properties": {
			"provider": {"type": "string", "minLength": 1},
			"filepath": {"type": "string", "minLength": 1},
			"filename": {"type": "string", "minLength": 1},
			"mimeType": {"type": "string", "minLength": 1}
		}
	}`,
}
