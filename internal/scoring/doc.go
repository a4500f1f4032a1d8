// Package scoring implements the second workflow stage. It reads the merged
// transcripts stored by the transcription stage, scores them through the
// evaluation engine, and writes the result row and completed status in one
// store transaction.
//
// A cancelled job is detected before every LLM call and persists no result.
package scoring
