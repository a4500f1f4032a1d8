package merge

import "speecheval/internal/textutil"

// Agreement is LCS(tokensA, tokensB) / max(|tokensA|, |tokensB|) over
// lower-cased whitespace tokens. It is symmetric and lies in [0, 1]; any
// non-empty text agrees with itself at 1 and two empty texts score 0.
func Agreement(a, b string) float64 {
	return agreementWords(textutil.Tokens(a), textutil.Tokens(b))
}

func agreementWords(wa, wb []string) float64 {
	longest := len(wa)
	if len(wb) > longest {
		longest = len(wb)
	}
	if longest == 0 {
		return 0
	}
	return float64(textutil.LCSLength(wa, wb)) / float64(longest)
}
