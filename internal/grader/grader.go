package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Task types for training capture.
const (
	TaskSpeakingPractice = "speaking_practice"
	TaskTranslationCheck = "translation_check"
	TaskSessionSummary   = "session_summary"
	TaskPromptGeneration = "prompt_generation"
)

// RoundGrade is the AI's 0-10 assessment of a spoken round.
type RoundGrade struct {
	Score        float64  `json:"score"`
	Feedback     string   `json:"feedback"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

// SessionSummary is the end-of-session wrap-up.
type SessionSummary struct {
	OverallFeedback string   `json:"overall_feedback"`
	CommonMistakes  []string `json:"common_mistakes"`
	Strengths       []string `json:"strengths"`
	Improvements    []string `json:"improvements"`
	Encouragement   string   `json:"encouragement"`
}

// TranslationCheck is the verdict on a learner's translation attempt.
type TranslationCheck struct {
	Correct  bool   `json:"correct"`
	Feedback string `json:"feedback"`
}

// Grader wraps the chat client with the fixed task templates. A nil
// Recorder disables training capture.
type Grader struct {
	client   *Client
	recorder *Recorder
	log      zerolog.Logger
}

// New creates a Grader.
func New(client *Client, recorder *Recorder, log zerolog.Logger) *Grader {
	return &Grader{
		client:   client,
		recorder: recorder,
		log:      log.With().Str("component", "grader").Logger(),
	}
}

const gradeTemplate = `You are an expert English speaking evaluator. Analyze the following speaking practice:

Expected text: %q
Spoken transcript: %q

Provide:
1. Score (0-10): overall performance
2. Feedback (2-4 sentences): specific, encouraging, actionable
3. Strengths (2-3 points)
4. Improvements (2-3 points with actionable steps)

Return JSON ONLY:
{"score": <0-10>, "feedback": "...", "strengths": ["..."], "improvements": ["..."]}`

// GradeRound asks the model to grade a transcript against the expected
// prompt. The returned score is on a 0-10 scale; callers clamp it against
// the lexical baseline via scoring.Blend.
func (g *Grader) GradeRound(ctx context.Context, expected, transcript string) (*RoundGrade, error) {
	prompt := fmt.Sprintf(gradeTemplate, expected, transcript)
	content, err := g.client.Complete(ctx, []Message{{Role: "user", Content: prompt}}, CallOpts{
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, err
	}

	var grade RoundGrade
	if err := json.Unmarshal([]byte(ExtractJSON(content)), &grade); err != nil {
		return nil, fmt.Errorf("parse grade: %w", err)
	}
	if grade.Score < 0 || grade.Score > 10 {
		return nil, fmt.Errorf("grade score %v out of range", grade.Score)
	}

	g.record(TaskSpeakingPractice, prompt, content)
	return &grade, nil
}

const summaryTemplate = `Summary: %d rounds, avg %d/100.
Scores: %s.

Return JSON only:
{"overall_feedback": "brief", "common_mistakes": ["m1"], "strengths": ["s1"], "improvements": ["i1"], "encouragement": "brief"}`

// Summarize asks for a short session wrap-up.
func (g *Grader) Summarize(ctx context.Context, scores []int, average int) (*SessionSummary, error) {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = fmt.Sprintf("R%d:%d", i+1, s)
	}
	prompt := fmt.Sprintf(summaryTemplate, len(scores), average, strings.Join(parts, " "))

	content, err := g.client.Complete(ctx, []Message{{Role: "user", Content: prompt}}, CallOpts{
		Temperature: 0.5,
		MaxTokens:   400,
	})
	if err != nil {
		return nil, err
	}

	var summary SessionSummary
	if err := json.Unmarshal([]byte(ExtractJSON(content)), &summary); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}

	g.record(TaskSessionSummary, prompt, content)
	return &summary, nil
}

// FallbackSummary is the static wrap-up used when the model is unavailable.
func FallbackSummary() *SessionSummary {
	return &SessionSummary{
		OverallFeedback: "Good effort! Keep practicing.",
		Encouragement:   "You're making progress!",
	}
}

const translationTemplate = `You are an English translation checker. Check if the translation is CORRECT or RELATIVELY CORRECT (meaning matches approximately) for the English text.

English text: %q
Translation: %q

Be LENIENT: accept translations that capture the main meaning. Only mark as incorrect if the translation is completely wrong or unrelated.
Respond ONLY with valid JSON, no markdown code blocks:
{"correct": <bool>, "feedback": "<brief feedback if incorrect, or a short confirmation if correct>"}`

// CheckTranslation asks for a lenient meaning-level verdict.
func (g *Grader) CheckTranslation(ctx context.Context, englishText, translation string) (*TranslationCheck, error) {
	prompt := fmt.Sprintf(translationTemplate, englishText, translation)
	content, err := g.client.Complete(ctx, []Message{{Role: "user", Content: prompt}}, CallOpts{
		Temperature: 0.5,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, err
	}

	var check TranslationCheck
	if err := json.Unmarshal([]byte(ExtractJSON(content)), &check); err != nil {
		return nil, fmt.Errorf("parse translation check: %w", err)
	}

	g.record(TaskTranslationCheck, prompt, content)
	return &check, nil
}

// record forwards a successful exchange to the training recorder.
func (g *Grader) record(taskType, input, output string) {
	if g.recorder != nil {
		g.recorder.Record(taskType, input, output)
	}
}
