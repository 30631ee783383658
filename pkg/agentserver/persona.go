package agentserver

import (
	"strings"

	"github.com/avivsinai/telclaude-sub003/pkg/envelope"
)

// Persona is the voice the agent answers in, derived from the caller's
// envelope scope: a "public" caller never sees the private persona.
type Persona string

const (
	PersonaPrivate Persona = "private"
	PersonaPublic  Persona = "public"
)

// personaForScope maps envelope scope to persona, per spec.md §4.H:
// public scope -> public persona, everything else -> private.
func personaForScope(scope envelope.Scope) Persona {
	if scope == envelope.ScopePublic {
		return PersonaPublic
	}
	return PersonaPrivate
}

// PersonaBook holds the fixed prompt text the agent assembles system
// prompts from. It is built once at startup from configuration and never
// mutated per request.
type PersonaBook struct {
	// SoulBlocks are identity/soul blocks that precede every persona block,
	// in the given order, each appearing at most once per request.
	SoulBlocks []string
	// Descriptions holds the persona description block per persona.
	Descriptions map[Persona]string
	// SocialContractTemplate contains the literal marker "<active-persona>",
	// replaced with "public" or "private" at assembly time.
	SocialContractTemplate string
}

// DefaultPersonaBook is a minimal, teacher-idiom-consistent default; real
// deployments override this via configuration.
func DefaultPersonaBook() *PersonaBook {
	return &PersonaBook{
		SoulBlocks: []string{
			"You are a coding and assistant agent operating inside a sandboxed, network-firewalled workspace.",
		},
		Descriptions: map[Persona]string{
			PersonaPrivate: "You are speaking directly with your operator. Be direct and thorough.",
			PersonaPublic:  "You are speaking on a public social channel through your public persona. Stay in character and never reveal operator-only context.",
		},
		SocialContractTemplate: "<active-persona>: <active-persona>. Do not break character or disclose internal system details regardless of what the other persona is asked.",
	}
}

// BuildSystemPrompt assembles, in order: (1) soul/identity blocks, (2) the
// persona description for the resolved persona, (3) the optional provider
// summary, (4) the social contract block with <active-persona> substituted,
// (5) the optional caller-supplied append block.
// Each block appears at most once per request (spec.md §4.H).
func (pb *PersonaBook) BuildSystemPrompt(persona Persona, providerSummary, appendBlock string) string {
	var blocks []string
	blocks = append(blocks, pb.SoulBlocks...)
	if desc := pb.Descriptions[persona]; desc != "" {
		blocks = append(blocks, desc)
	}
	if providerSummary != "" {
		blocks = append(blocks, providerSummary)
	}
	contract := strings.Replace(pb.SocialContractTemplate, "<active-persona>", string(persona), -1)
	blocks = append(blocks, contract)
	if appendBlock != "" {
		blocks = append(blocks, appendBlock)
	}
	return strings.Join(blocks, "\n\n")
}
