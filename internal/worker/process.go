package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/speaklab/practice-engine/internal/database"
	"github.com/speaklab/practice-engine/internal/metrics"
	"github.com/speaklab/practice-engine/internal/scoring"
	"github.com/speaklab/practice-engine/internal/transcribe"
)

func (wp *WorkerPool) processJob(log zerolog.Logger, job Job) error {
	start := time.Now()
	defer func() {
		metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(wp.ctx, wp.opts.JobTimeout)
	defer cancel()

	ev := scoring.Evidence{
		HighlightIndices: job.ClientHighlights,
		ClientTranscript: job.ClientTranscript,
	}

	// Server-side ASR is best effort. A failed or missing transcription
	// still leaves the client evidence sources usable.
	var asrResp *transcribe.Response
	if wp.opts.ASR != nil && job.AudioKey != "" {
		if path := wp.localAudioPath(ctx, job.AudioKey); path != "" {
			resp, err := wp.opts.ASR.Transcribe(ctx, path)
			if err != nil {
				metrics.TranscriptionsTotal.WithLabelValues("asr", "error").Inc()
				log.Warn().Err(err).Int64("round_id", job.RoundID).Msg("transcription failed, falling back to client evidence")
			} else {
				metrics.TranscriptionsTotal.WithLabelValues("asr", "ok").Inc()
				asrResp = resp
				ev.ASRText = resp.FullText()
			}
		} else {
			log.Warn().Str("key", job.AudioKey).Msg("audio not found in any storage tier")
		}
	}

	res := scoring.Resolve(job.Prompt, ev)
	score := res.Score

	analysis := database.Analysis{
		CorrectedText: job.Prompt,
		MissingWords:  missingOrEmpty(res.MissingWords),
		Source:        res.Source,
	}
	var strengths, improvements []string

	// AI refinement runs only when there is spoken text to judge. The
	// blended score stays within [0.7*lexical, lexical].
	if spoken := spokenText(ev, res); wp.opts.Grader != nil && spoken != "" {
		grade, err := wp.opts.Grader.GradeRound(ctx, job.Prompt, spoken)
		if err != nil {
			metrics.GraderRequestsTotal.WithLabelValues("error").Inc()
			log.Warn().Err(err).Int64("round_id", job.RoundID).Msg("ai grading failed, keeping lexical score")
		} else {
			metrics.GraderRequestsTotal.WithLabelValues("ok").Inc()
			score = scoring.Blend(res, grade.Score)
			analysis.Feedback = grade.Feedback
			strengths = grade.Strengths
			improvements = grade.Improvements
		}
	}
	if analysis.Feedback == "" {
		analysis.Feedback = lexicalFeedback(res)
	}
	for _, w := range res.MissingWords {
		analysis.Errors = append(analysis.Errors, "missing word: "+w)
	}
	analysis.Score = score
	analysis.WordAnalysis = wordAnalysis(asrResp)

	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}

	var transcriptJSON json.RawMessage
	if asrResp != nil {
		transcriptJSON, err = json.Marshal(asrResp)
		if err != nil {
			return fmt.Errorf("marshal transcript: %w", err)
		}
	}

	if err := wp.opts.Store.FinalizeRound(ctx, job.RoundID, transcriptJSON, score, analysisJSON); err != nil {
		return fmt.Errorf("finalize round: %w", err)
	}
	metrics.RoundsScoredTotal.WithLabelValues(res.Source).Inc()

	// Quick evaluation is a side record; its failure never affects the round.
	go wp.saveQuickEvaluation(job, score, analysis.Feedback, strengths, improvements)

	scored, err := wp.opts.Store.CountScoredRounds(ctx, job.SessionID)
	if err != nil {
		log.Warn().Err(err).Int64("session_id", job.SessionID).Msg("scored-round count failed")
	} else if scored >= wp.opts.RoundsPerSession && wp.opts.Finalizer != nil {
		wp.opts.Finalizer.Finalize(ctx, job.SessionID)
	}

	log.Info().
		Int64("round_id", job.RoundID).
		Int64("session_id", job.SessionID).
		Int("round", job.RoundNumber).
		Int("score", score).
		Str("source", res.Source).
		Dur("elapsed", time.Since(start)).
		Msg("round scored")

	return nil
}

// localAudioPath resolves the key to a readable local file. Opening a tiered
// store caches the S3 copy onto disk, so a second LocalPath succeeds.
func (wp *WorkerPool) localAudioPath(ctx context.Context, key string) string {
	if path := wp.opts.Audio.LocalPath(key); path != "" {
		return path
	}
	r, err := wp.opts.Audio.Open(ctx, key)
	if err != nil {
		return ""
	}
	r.Close()
	return wp.opts.Audio.LocalPath(key)
}

func (wp *WorkerPool) saveQuickEvaluation(job Job, score int, feedback string, strengths, improvements []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := wp.opts.Store.InsertQuickEvaluation(ctx, &database.QuickEvaluation{
		LearnerID:    job.LearnerID,
		SessionID:    job.SessionID,
		RoundID:      job.RoundID,
		Score:        score,
		Feedback:     feedback,
		Strengths:    strengths,
		Improvements: improvements,
	})
	if err != nil {
		wp.log.Warn().Err(err).Int64("round_id", job.RoundID).Msg("quick evaluation insert failed")
	}
}

// spokenText picks the transcript the AI should judge. Only the evidence that
// actually scored the round qualifies; a highlight-scored round carries no
// transcript, so it never reaches the grader and a server transcription cannot
// pull its score down.
func spokenText(ev scoring.Evidence, res scoring.Result) string {
	switch res.Source {
	case scoring.SourceASR:
		return ev.ASRText
	case scoring.SourceClientTranscript:
		return ev.ClientTranscript
	}
	return ""
}

func lexicalFeedback(res scoring.Result) string {
	switch {
	case res.Total == 0:
		return "No prompt words to check."
	case res.Matched == res.Total:
		return "Great job! You said every word of the prompt."
	case res.Matched == 0:
		return "We couldn't hear the prompt in your recording. Try again, speaking clearly."
	default:
		return fmt.Sprintf("You matched %d of %d words. Practice the missing ones and try again.", res.Matched, res.Total)
	}
}

func missingOrEmpty(words []string) []string {
	if words == nil {
		return []string{}
	}
	return words
}

func wordAnalysis(resp *transcribe.Response) []database.WordAnalysis {
	if resp == nil || len(resp.Words) == 0 {
		return nil
	}
	out := make([]database.WordAnalysis, len(resp.Words))
	for i, w := range resp.Words {
		out[i] = database.WordAnalysis{Word: w.Text, WordIndex: i}
		if w.End > 0 || w.Start > 0 {
			start, end := w.Start, w.End
			out[i].Start = &start
			out[i].End = &end
		}
		if w.Score > 0 {
			conf := w.Score
			out[i].Confidence = &conf
		}
	}
	return out
}
