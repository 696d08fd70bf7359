package translator

// Supported language codes.
const (
	LangJapanese = "ja"
	LangEnglish  = "en"
	LangPolish   = "pl"
)

// polishDiacritics are the Latin letters unique to Polish orthography.
const polishDiacritics = "ąćęłńóśźżĄĆĘŁŃÓŚŹŻ"

// DetectLanguage classifies text by script. Any kana or CJK ideograph marks
// the text Japanese, a Polish diacritic marks it Polish, and everything else
// falls back to English. Japanese takes precedence so that mixed posts from
// Japanese speakers quoting Latin text are still translated for them.
func DetectLanguage(text string) string {
	for _, r := range text {
		if (r >= 0x3040 && r <= 0x30FF) || (r >= 0x4E00 && r <= 0x9FFF) {
			return LangJapanese
		}
	}
	for _, r := range text {
		for _, p := range polishDiacritics {
			if r == p {
				return LangPolish
			}
		}
	}
	return LangEnglish
}

// translationTargets maps a detected source language to the languages a post
// should be translated into.
func translationTargets(sourceLang string) []string {
	if sourceLang == LangJapanese {
		return []string{LangEnglish, LangPolish}
	}
	return []string{LangJapanese}
}
