package transcribe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Tiered wraps a Provider with two quality tiers: a primary model and a
// faster, lower-accuracy fallback tried once when the primary fails. Each
// attempt gets its own deadline so a hung primary cannot eat the fallback's
// time budget.
type Tiered struct {
	provider Provider
	primary  string
	fallback string
	language string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewTiered creates a two-tier transcriber.
func NewTiered(p Provider, primary, fallback, language string, timeout time.Duration, log zerolog.Logger) *Tiered {
	return &Tiered{
		provider: p,
		primary:  primary,
		fallback: fallback,
		language: language,
		timeout:  timeout,
		log:      log.With().Str("component", "transcribe").Logger(),
	}
}

// WithTimeout returns a copy using a different per-attempt timeout. Used by
// the bulk re-analysis path, which tolerates the longer batch ceiling.
func (t *Tiered) WithTimeout(d time.Duration) *Tiered {
	c := *t
	c.timeout = d
	return &c
}

// Transcribe tries the primary tier, then the fallback tier once.
func (t *Tiered) Transcribe(ctx context.Context, audioPath string) (*Response, error) {
	resp, err := t.attempt(ctx, audioPath, t.primary)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	t.log.Warn().Err(err).
		Str("model", t.primary).
		Str("fallback", t.fallback).
		Msg("primary transcription tier failed, retrying on fallback")

	resp, ferr := t.attempt(ctx, audioPath, t.fallback)
	if ferr != nil {
		return nil, fmt.Errorf("both tiers failed: primary: %v; fallback: %w", err, ferr)
	}
	return resp, nil
}

func (t *Tiered) attempt(ctx context.Context, audioPath, model string) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.provider.Transcribe(attemptCtx, audioPath, Opts{Model: model, Language: t.language})
}
