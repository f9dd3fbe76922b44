package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// fallbackPrompts is the static rotation used when the model is down. One
// of these is picked deterministically from the round number so retries of
// the same round keep the same prompt.
var fallbackPrompts = []string{
	"I like to learn English every day",
	"The weather is very nice today",
	"My family has dinner together on weekends",
	"I usually take the bus to work in the morning",
	"Reading books helps me relax after a long day",
	"She bought some fresh vegetables at the market",
	"We are planning a trip to the mountains next month",
	"He practices speaking English with his friends",
	"The children are playing football in the park",
	"I want to improve my pronunciation this year",
}

const promptTemplate = `Generate ONE short English sentence for a speaking exercise.

Level: %d (1 = beginner). Round: %d of 10.
The sentence must be 6-14 words, everyday vocabulary, natural spoken English.
Do NOT repeat or closely paraphrase any of these already-used sentences:
%s

Return JSON only:
{"prompt": "<the sentence>"}`

// GeneratePrompt produces a fresh speaking prompt, avoiding the prompts
// already used within the session. Falls back to the static rotation when
// the model is unavailable.
func (g *Grader) GeneratePrompt(ctx context.Context, level, round int, used []string) (string, error) {
	usedList := "(none yet)"
	if len(used) > 0 {
		usedList = "- " + strings.Join(used, "\n- ")
	}
	prompt := fmt.Sprintf(promptTemplate, level, round, usedList)

	content, err := g.client.Complete(ctx, []Message{{Role: "user", Content: prompt}}, CallOpts{
		Temperature: 0.9,
		MaxTokens:   100,
	})
	if err != nil {
		g.log.Warn().Err(err).Int("round", round).Msg("prompt generation failed, using fallback rotation")
		return FallbackPrompt(round, used), nil
	}

	var parsed struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(ExtractJSON(content)), &parsed); err != nil || strings.TrimSpace(parsed.Prompt) == "" {
		g.log.Warn().Int("round", round).Msg("unparseable prompt reply, using fallback rotation")
		return FallbackPrompt(round, used), nil
	}

	g.record(TaskPromptGeneration, prompt, content)
	return strings.TrimSpace(parsed.Prompt), nil
}

// FallbackPrompt picks a static prompt for the round, skipping any already
// used in the session.
func FallbackPrompt(round int, used []string) string {
	usedSet := make(map[string]bool, len(used))
	for _, u := range used {
		usedSet[strings.ToLower(strings.TrimSpace(u))] = true
	}
	start := round - 1
	if start < 0 {
		start = 0
	}
	for i := 0; i < len(fallbackPrompts); i++ {
		p := fallbackPrompts[(start+i)%len(fallbackPrompts)]
		if !usedSet[strings.ToLower(p)] {
			return p
		}
	}
	return fallbackPrompts[start%len(fallbackPrompts)]
}

// TimeLimit returns the answer window in seconds for a prompt: a base of
// 15s plus a second per word, capped at 60s. Level is reserved for future
// per-level scaling.
func TimeLimit(level int, prompt string) int {
	words := len(strings.Fields(prompt))
	limit := 15 + words
	if limit > 60 {
		limit = 60
	}
	return limit
}
