package align

// Match is the result of placing a pattern inside a text.
type Match struct {
	Dist  int
	Start int // in text
	End   int // exclusive
}

// Infix finds the lowest edit distance placement of pattern anywhere in
// text. Leading and trailing text is free; 'N' in the pattern matches any
// base. Ties prefer the leftmost end.
func Infix(pattern, text string) Match {
	m, n := len(pattern), len(text)
	if m == 0 {
		return Match{}
	}
	cost := make([]int, n+1)
	start := make([]int, n+1)
	prevCost := make([]int, n+1)
	prevStart := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prevStart[j] = j
	}

	for i := 1; i <= m; i++ {
		cost[0] = i
		start[0] = 0
		p := pattern[i-1]
		for j := 1; j <= n; j++ {
			sub := prevCost[j-1]
			if p != 'N' && p != text[j-1] {
				sub++
			}
			best, origin := sub, prevStart[j-1]
			if del := prevCost[j] + 1; del < best {
				best, origin = del, prevStart[j]
			}
			if ins := cost[j-1] + 1; ins < best {
				best, origin = ins, start[j-1]
			}
			cost[j], start[j] = best, origin
		}
		cost, prevCost = prevCost, cost
		start, prevStart = prevStart, start
	}

	res := Match{Dist: prevCost[0]}
	for j := 1; j <= n; j++ {
		if prevCost[j] < res.Dist {
			res = Match{Dist: prevCost[j], Start: prevStart[j], End: j}
		}
	}
	return res
}

// Score maps an edit distance over a pattern of length n to [0, 1].
func Score(dist, n int) float64 {
	if n == 0 {
		return 0
	}
	s := 1 - float64(dist)/float64(n)
	if s < 0 {
		return 0
	}
	return s
}
