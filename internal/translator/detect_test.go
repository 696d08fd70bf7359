package translator

import "testing"

func TestDetectLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "hiragana", text: "こんにちは", want: LangJapanese},
		{name: "katakana", text: "コンニチハ", want: LangJapanese},
		{name: "kanji", text: "日本語", want: LangJapanese},
		{name: "polish diacritics", text: "cześć, jak się masz?", want: LangPolish},
		{name: "polish uppercase diacritic", text: "ŁÓDŹ", want: LangPolish},
		{name: "plain english", text: "hello there", want: LangEnglish},
		{name: "empty string", text: "", want: LangEnglish},
		{name: "numbers and punctuation", text: "123 !?", want: LangEnglish},
		{name: "japanese wins over polish", text: "ąćę 日本", want: LangJapanese},
		{name: "kanji embedded in latin", text: "see you at 渋谷 later", want: LangJapanese},
		{name: "plain latin polish words without diacritics", text: "dobra robota", want: LangEnglish},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DetectLanguage(tt.text); got != tt.want {
				t.Errorf("DetectLanguage(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestTranslationTargets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		source string
		want   []string
	}{
		{source: LangJapanese, want: []string{LangEnglish, LangPolish}},
		{source: LangEnglish, want: []string{LangJapanese}},
		{source: LangPolish, want: []string{LangJapanese}},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			t.Parallel()
			got := translationTargets(tt.source)
			if len(got) != len(tt.want) {
				t.Fatalf("translationTargets(%q) = %v, want %v", tt.source, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("translationTargets(%q)[%d] = %q, want %q", tt.source, i, got[i], tt.want[i])
				}
			}
		})
	}
}
