// Package transcription implements the first workflow stage: every recorded
// segment of a job runs through both ASR models, the outputs are merged, and
// the merged transcripts are stored on the job row before it advances to
// pending_eval.
//
// Segments run one at a time in catalogue order with a minimum spacing
// between ASR submissions. The job is checked for cancellation before each
// segment, and a cancelled job persists nothing.
package transcription
