package filter

import (
	"github.com/franz/speech-corpus/internal/corpus"
	"github.com/franz/speech-corpus/internal/store"
)

// rangePredicate bounds col by r. Both ends are inclusive.
func rangePredicate(col store.Column, r *Range) []store.Predicate {
	if r == nil {
		return nil
	}
	var preds []store.Predicate
	if r.Min != nil {
		preds = append(preds, store.AtLeast(col, *r.Min))
	}
	if r.Max != nil {
		preds = append(preds, store.AtMost(col, *r.Max))
	}
	return preds
}

// Predicates translates the profile into selection predicates. Quotas are
// not predicates and are applied separately.
func (p *Profile) Predicates() []store.Predicate {
	var preds []store.Predicate
	if p.SampleRate != nil {
		preds = append(preds, store.Equals(store.ColSampleRate, *p.SampleRate))
	}
	if p.Channels != nil {
		preds = append(preds, store.Equals(store.ColChannels, *p.Channels))
	}
	preds = append(preds, rangePredicate(store.ColDuration, p.Duration)...)
	preds = append(preds, rangePredicate(store.ColSNR, p.SNR)...)
	preds = append(preds, rangePredicate(store.ColDBFS, p.DBFS)...)
	preds = append(preds, rangePredicate(store.ColWER, p.WER)...)
	preds = append(preds, rangePredicate(store.ColCER, p.CER)...)

	if p.UseUnknownSpeakers != nil && !*p.UseUnknownSpeakers {
		preds = append(preds, store.NotEquals(store.ColSpeaker, corpus.UnknownSpeaker))
	}
	if p.OnlyWithOriginalTexts != nil && *p.OnlyWithOriginalTexts {
		preds = append(preds, store.NotNull(store.ColOriginalText))
	}
	if p.OnlyWithASRTexts != nil && *p.OnlyWithASRTexts {
		preds = append(preds, store.NotNull(store.ColASRText))
	}
	return preds
}
