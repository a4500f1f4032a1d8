// Package textutil provides word-level text helpers shared by the merge and
// evaluation engines.
//
// Words normalizes a transcript to NFKC, lower-cases it, splits on
// whitespace, and trims edge punctuation so "Real." and "real" compare equal.
// LCSLength computes the order-preserving overlap that transcript agreement
// is built on. SubjectToken makes job ids safe for NATS subjects.
package textutil
