// Package quota tracks provider API credentials and their per-model daily
// quota state.
//
// A Pool hands out credentials ordered by ascending error count, rotating
// equally healthy keys with a cursor the pool owns. Exhaustion is recorded per
// (credential, model, day) so a key that has spent its allowance on one model
// stays usable for the others. The Classifier interface decides whether a
// provider error spends quota (permanent), asks for a pause (transient), or is
// unrelated; HeuristicClassifier is the phrase and status based default.
package quota
