package translator

import (
	"fmt"
	"strings"
	"time"

	"kakehashi/internal/database"
)

// languageNames spells out codes for prompt text.
var languageNames = map[string]string{
	LangJapanese: "Japanese",
	LangEnglish:  "English",
	LangPolish:   "Polish",
}

const styleDirectives = `Rules:
- Preserve the tone and nuance of the original message, including slang and emotion.
- Prefer a longer faithful translation over a short loose one.
- Keep technical terms, proper nouns, and game or product names as the community uses them.
- Output only the translation, with no preamble, notes, or quotation marks.`

// buildInstruction returns the system instruction for a source/target pair.
func buildInstruction(sourceLang, targetLang string) string {
	return fmt.Sprintf(
		"You are a translator for an international chat community. Translate messages from %s into natural, conversational %s.\n\n%s",
		languageNames[sourceLang], languageNames[targetLang], styleDirectives)
}

// buildPrompt renders the user prompt: recent conversation oldest-first,
// then the text to translate. Context rows arrive newest-first from the
// store and are reversed here.
func buildPrompt(context []*database.Post, sourceText string) string {
	var b strings.Builder

	if len(context) > 0 {
		b.WriteString("Recent conversation for context (do not translate these):\n")
		for i := len(context) - 1; i >= 0; i-- {
			post := context[i]
			fmt.Fprintf(&b, "[%s] %s: %s\n",
				post.CreatedAt.Format(time.RFC3339), post.UserID, post.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Translate the following message:\n")
	b.WriteString(sourceText)
	return b.String()
}
