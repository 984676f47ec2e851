package ai

// DefaultSystemPrompt is sent as the system instruction of every handle.
const DefaultSystemPrompt = "You are a highly capable, helpful, and friendly AI assistant named NovaChat. " +
	"You provide clear, concise, and accurate answers. When writing code, you provide explanations."

// SystemPrompt returns the configured override or the default instruction.
func SystemPrompt(override string) string {
	if override != "" {
		return override
	}
	return DefaultSystemPrompt
}
