package callctx

import (
	"fmt"
	"strings"

	"github.com/MrWong99/livecall/pkg/store"
)

// Section defaults rendered when a part of the context is empty.
const (
	NoHistory  = "Start of the conversation."
	NoSiblings = "This is the only conversation in this project."
	NoVoiceLog = "No earlier voice log."
)

// DefaultPersona is the ruleset every live call starts from.
const DefaultPersona = `You are a strategic assistant in a real-time voice call. You are the same
assistant as in the text chat: you know what was written, what was shown and
what is on the stage.
Answer concisely and naturally, and keep the project's continuity.

### RULES
1. IMAGES: you cannot generate images in this mode. When the user asks for an
   image you MUST use the abrir_estudio_de_imagem tool, and say that you are
   opening the studio while you call it.
2. FILES: when saving documents with salvar_ativo_no_stage, use SEMANTIC names
   (e.g. "minimalist_concept.md"). Describe what you will save and wait for
   explicit confirmation first.
3. The voice log (Sessao_Voz_Log.md) is read-only memory. Never write to it.
4. Greet the user back before focusing on work. Do not create anything
   without explicit approval.`

// FormatInstruction renders persona followed by the context sections. A nil
// cc yields the persona alone, which is what a call without a conversation
// uses. The formatter is pure and safe for concurrent use.
func FormatInstruction(persona string, cc *CallContext) string {
	persona = strings.TrimSpace(persona)
	if cc == nil {
		return persona
	}

	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\n### CONTEXT: CURRENT PROJECT AND TEXT CHAT\n")

	sb.WriteString("#### RECENT TEXT HISTORY OF THIS CONVERSATION:\n")
	sb.WriteString(orDefault(formatHistory(cc.History, cc.Labels), NoHistory))

	sb.WriteString("\n\n#### OTHER CONVERSATIONS IN THE SAME PROJECT:\n")
	sb.WriteString(orDefault(formatSiblings(cc.Siblings), NoSiblings))

	sb.WriteString("\n\n#### VOICE TRANSCRIPT MEMORY (THIS CALL):\n")
	sb.WriteString(orDefault(strings.TrimRight(cc.VoiceLog, "\n"), NoVoiceLog))
	sb.WriteString("\n")

	return sb.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func formatHistory(msgs []store.Message, labels Labels) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		speaker := labels.Assistant
		if m.Role == store.RoleUser {
			speaker = labels.User
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, m.Text))
	}
	return strings.Join(lines, "\n")
}

func formatSiblings(convs []store.Conversation) string {
	lines := make([]string, 0, len(convs))
	for _, c := range convs {
		preview := c.LastPreview
		if preview == "" {
			preview = "N/A"
		}
		lines = append(lines, fmt.Sprintf("- Conversation: %q (last preview: %s)", c.Title, preview))
	}
	return strings.Join(lines, "\n")
}
