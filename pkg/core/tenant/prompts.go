package tenant

import "strings"

const (
	DefaultVoice = "Puck"

	DefaultPersona = "You are a friendly AI restaurant assistant. You MUST speak in strictly Moroccan Darija (Arabic dialect). " +
		"(تكلم بالدارجة المغربية فقط). Do not speak French or standard Arabic unless requested. Be polite and helpful."

	DefaultLanguageSuffix = "IMPORTANT: Speak in Moroccan Darija (Arabic dialect) at all times."

	DefaultMenuHeader = "Here is the Menu:"

	DefaultToolGuidance = "When the order is confirmed, use the 'create_order' function to submit it. " +
		"If the customer has a special request, demand, or modification that is NOT a direct food order, use 'submit_demand'. " +
		"Always ask for the customer's name."

	DefaultGreeting = "The customer is online. Say 'Salam' and ask for their order in Moroccan Darija."
)

// Prompts holds the natural-language pieces assembled into the system
// instruction. The text is opaque configuration.
type Prompts struct {
	Persona        string
	LanguageSuffix string
	MenuHeader     string
	ToolGuidance   string
	Greeting       string
	Voice          string
}

// DefaultPrompts returns the built-in configuration.
func DefaultPrompts() Prompts {
	return Prompts{
		Persona:        DefaultPersona,
		LanguageSuffix: DefaultLanguageSuffix,
		MenuHeader:     DefaultMenuHeader,
		ToolGuidance:   DefaultToolGuidance,
		Greeting:       DefaultGreeting,
		Voice:          DefaultVoice,
	}
}

func (p Prompts) withDefaults() Prompts {
	d := DefaultPrompts()
	if p.Persona == "" {
		p.Persona = d.Persona
	}
	if p.LanguageSuffix == "" {
		p.LanguageSuffix = d.LanguageSuffix
	}
	if p.MenuHeader == "" {
		p.MenuHeader = d.MenuHeader
	}
	if p.ToolGuidance == "" {
		p.ToolGuidance = d.ToolGuidance
	}
	if p.Greeting == "" {
		p.Greeting = d.Greeting
	}
	if p.Voice == "" {
		p.Voice = d.Voice
	}
	return p
}

// Instruction assembles the system instruction for t (nil = default):
// persona or tenant prompt, language suffix for tenants, menu, tool guidance.
func (p Prompts) Instruction(t *Tenant) string {
	p = p.withDefaults()
	parts := []string{p.Persona}
	if t != nil {
		if strings.TrimSpace(t.SystemPrompt) != "" {
			parts[0] = t.SystemPrompt
		}
		parts = append(parts, p.LanguageSuffix)
		if strings.TrimSpace(t.Menu) != "" {
			parts = append(parts, p.MenuHeader+"\n"+t.Menu)
		}
	}
	parts = append(parts, p.ToolGuidance)
	return strings.Join(parts, "\n\n")
}

// VoiceFor returns the tenant's voice or the default one.
func (p Prompts) VoiceFor(t *Tenant) string {
	if t != nil && strings.TrimSpace(t.Voice) != "" {
		return t.Voice
	}
	return p.withDefaults().Voice
}
