package extraction

import (
	"context"
	"log/slog"

	"kycvault/pkg/platform/circuit"
)

// WithFallback tries primary while its breaker allows it and falls back on
// error or when the breaker is open.
type WithFallback struct {
	primary  Extractor
	fallback Extractor
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewWithFallback(primary, fallback Extractor, breaker *circuit.Breaker, logger *slog.Logger) *WithFallback {
	return &WithFallback{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (f *WithFallback) Extract(ctx context.Context, doc Document) (Attributes, error) {
	if f.breaker.Allow() {
		attrs, err := f.primary.Extract(ctx, doc)
		if err == nil {
			if _, change := f.breaker.RecordSuccess(); change.Closed {
				f.logger.InfoContext(ctx, "extraction circuit closed", "breaker", f.breaker.Name())
			}
			return attrs, nil
		}
		_, change := f.breaker.RecordFailure()
		f.logger.WarnContext(ctx, "remote extraction failed, using fallback",
			"breaker", f.breaker.Name(),
			"error", err,
			"circuit_opened", change.Opened,
		)
	}
	return f.fallback.Extract(ctx, doc)
}

// SummarizerWithFallback is the Summarizer counterpart of WithFallback.
type SummarizerWithFallback struct {
	primary  Summarizer
	fallback Summarizer
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewSummarizerWithFallback(primary, fallback Summarizer, breaker *circuit.Breaker, logger *slog.Logger) *SummarizerWithFallback {
	return &SummarizerWithFallback{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (f *SummarizerWithFallback) Summarize(ctx context.Context, text string) (string, error) {
	if f.breaker.Allow() {
		summary, err := f.primary.Summarize(ctx, text)
		if err == nil {
			f.breaker.RecordSuccess()
			return summary, nil
		}
		f.breaker.RecordFailure()
		f.logger.WarnContext(ctx, "remote summarizer failed, using fallback",
			"breaker", f.breaker.Name(),
			"error", err,
		)
	}
	return f.fallback.Summarize(ctx, text)
}
