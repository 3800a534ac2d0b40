package verify

// maxLCSCells bounds the LCS table built by [diffTokens]. Two sequences whose
// differing middle is larger get no change spans.
const maxLCSCells = 2000 * 2000

// diffTokens returns the regions where orig and corr differ. The common
// prefix and suffix are trimmed before aligning the middle with [tokenLCS];
// it returns nil when the middle exceeds maxLCSCells.
func diffTokens(orig, corr []string) []Change {
	p := 0
	for p < len(orig) && p < len(corr) && orig[p] == corr[p] {
		p++
	}
	s := 0
	for s < len(orig)-p && s < len(corr)-p && orig[len(orig)-1-s] == corr[len(corr)-1-s] {
		s++
	}
	a, b := orig[p:len(orig)-s], corr[p:len(corr)-s]
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	if len(a)*len(b) > maxLCSCells {
		return nil
	}
	return extractChanges(a, b, tokenLCS(a, b))
}

// indexPair maps a token index in the original sequence to the matching
// index in the corrected sequence.
type indexPair struct {
	origIdx int
	corrIdx int
}

// tokenLCS computes the longest common subsequence of two token slices and
// returns anchor pairs for the common tokens, in order. It runs in O(m*n)
// time and space; callers bound the input through [diffTokens].
func tokenLCS(a, b []string) []indexPair {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return nil
	}

	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			switch {
			case a[i-1] == b[j-1]:
				dp[i][j] = dp[i-1][j-1] + 1
			case dp[i-1][j] >= dp[i][j-1]:
				dp[i][j] = dp[i-1][j]
			default:
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	k := dp[m][n]
	if k == 0 {
		return nil
	}
	anchors := make([]indexPair, k)
	for i, j := m, n; i > 0 && j > 0; {
		switch {
		case a[i-1] == b[j-1]:
			k--
			anchors[k] = indexPair{origIdx: i - 1, corrIdx: j - 1}
			i--
			j--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return anchors
}

// extractChanges collects the gaps between anchored tokens.
func extractChanges(orig, corr []string, anchors []indexPair) []Change {
	var changes []Change
	oi, ci := 0, 0
	for _, a := range anchors {
		if oi < a.origIdx || ci < a.corrIdx {
			changes = append(changes, Change{
				Original:  orig[oi:a.origIdx],
				Corrected: corr[ci:a.corrIdx],
			})
		}
		oi = a.origIdx + 1
		ci = a.corrIdx + 1
	}
	if oi < len(orig) || ci < len(corr) {
		changes = append(changes, Change{
			Original:  orig[oi:],
			Corrected: corr[ci:],
		})
	}
	return changes
}
