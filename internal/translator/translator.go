// Package translator orchestrates AI translation of chat posts: it detects
// the source language, fans out to the target languages, and persists both
// the combined result and a per-post translation log.
package translator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kakehashi/internal/database"
	"kakehashi/internal/gemini"
)

// Translator turns a stored post into a combined multi-language translation.
type Translator struct {
	store           database.Store
	model           gemini.Client
	log             *slog.Logger
	contextMessages int
}

// New creates a translator. contextMessages bounds how much recent
// conversation is embedded in each prompt.
func New(store database.Store, model gemini.Client, log *slog.Logger, contextMessages int) *Translator {
	if contextMessages <= 0 {
		contextMessages = 2
	}
	return &Translator{
		store:           store,
		model:           model,
		log:             log.With("component", "translator"),
		contextMessages: contextMessages,
	}
}

// Translate produces translations of sourceText for every target language of
// its detected source language, persists the combined result on the post,
// and returns it. A failure on one target language skips that language only.
// If no target language succeeds, nothing is persisted and the empty string
// is returned with a nil error; callers treat that as "no reply".
func (t *Translator) Translate(ctx context.Context, postID int64, sourceText, userID, roomID string) (string, error) {
	sourceLang := DetectLanguage(sourceText)
	targets := translationTargets(sourceLang)

	contextPosts, err := t.fetchContext(ctx, userID, roomID, postID)
	if err != nil {
		t.log.WarnContext(ctx, "Failed to fetch conversation context, translating without it",
			"post_id", postID, "error", err)
		contextPosts = nil
	}

	prompt := buildPrompt(contextPosts, sourceText)

	var lines []string
	logged := false
	for _, target := range targets {
		instruction := buildInstruction(sourceLang, target)
		translated, err := t.model.Generate(ctx, instruction, prompt)
		if err != nil {
			t.log.ErrorContext(ctx, "Translation failed for target language",
				"post_id", postID, "source_lang", sourceLang, "target_lang", target, "error", err)
			continue
		}
		translated = strings.TrimSpace(translated)
		lines = append(lines, fmt.Sprintf("[%s] %s", target, translated))

		if !logged {
			logged = true
			logEntry := &database.TranslationLog{
				UserID:      userID,
				SourceLang:  sourceLang,
				Original:    sourceText,
				Translated:  translated,
				Prompt:      prompt,
				ContextSize: len(contextPosts),
				CreatedAt:   time.Now().UTC(),
			}
			if err := t.store.SaveTranslationLog(ctx, logEntry); err != nil {
				t.log.ErrorContext(ctx, "Failed to save translation log",
					"post_id", postID, "error", err)
			}
		}
	}

	if len(lines) == 0 {
		return "", nil
	}

	combined := strings.Join(lines, "\n")
	if err := t.store.SetPostTranslation(ctx, postID, combined); err != nil {
		return "", fmt.Errorf("failed to persist translation: %w", err)
	}
	return combined, nil
}

// fetchContext loads recent conversation for the prompt: room history when
// the post is room-scoped, otherwise the user's room-less history. The post
// under translation is excluded.
func (t *Translator) fetchContext(ctx context.Context, userID, roomID string, excludePostID int64) ([]*database.Post, error) {
	if roomID != "" {
		return t.store.GetRecentRoomPosts(ctx, roomID, t.contextMessages, excludePostID)
	}
	return t.store.GetRecentUserPosts(ctx, userID, t.contextMessages, excludePostID)
}
