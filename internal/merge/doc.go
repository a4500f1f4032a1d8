// Package merge runs two ASR models over each answer segment and reconciles
// their transcripts into one final text with a confidence tier.
//
// Cleaning removes a closed set of known ASR artifacts. Agreement is the
// word-level LCS ratio between the cleaned candidates, and the resolution
// rules map it onto consensus, single-model selection, or a low-confidence
// pick guided by hallucination and speaking-rate checks.
package merge
