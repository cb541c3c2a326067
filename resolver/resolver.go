// Package resolver ranks catalog objects against free-text destinations
// typed by drivers in either Cyrillic or Latin script.
package resolver

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	DefaultThreshold = 0.7
	MaxMatches       = 5
	minPartialLen    = 3
)

type Candidate struct {
	ID   string
	Name string
}

type Match struct {
	Candidate
	Score float64
}

// Ratio is the difflib sequence ratio of a and b, compared rune by rune.
func Ratio(a, b string) float64 {
	return difflib.NewMatcher(runes(a), runes(b)).Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Score returns how well input describes candidate, in [0, 1].
func Score(input, candidate string) float64 {
	nu := Normalize(input)
	no := Normalize(candidate)
	if nu != "" && nu == no {
		return 1
	}
	userLat, userCyr := ToLatin(nu), ToCyrillic(nu)
	objLat, objCyr := ToLatin(no), ToCyrillic(no)

	wordLists := [][]string{strings.Fields(no), strings.Fields(objLat), strings.Fields(objCyr)}
	variants := []string{nu, userLat, userCyr}

	var best float64
	keep := func(s float64) {
		if s > best {
			best = s
		}
	}

	for _, v := range variants {
		for _, words := range wordLists {
			for _, w := range words {
				if v == w {
					keep(0.95)
					break
				}
			}
		}
		vl := float64(runeLen(v))
		for _, words := range wordLists {
			for _, w := range words {
				wl := float64(runeLen(w))
				if vl < minPartialLen || wl < minPartialLen {
					continue
				}
				switch {
				case strings.Contains(w, v):
					cov := vl / wl
					if cov >= 0.5 {
						keep(0.85 + cov*0.1)
					} else {
						keep(0.7 + cov*0.15)
					}
				case strings.Contains(v, w):
					cov := wl / vl
					if cov >= 0.5 {
						keep(0.8 + cov*0.1)
					} else {
						keep(0.6 + cov*0.2)
					}
				default:
					r := Ratio(v, w)
					if r >= 0.7 {
						keep(0.7 + r*0.25)
					} else if r >= 0.5 {
						keep(0.5 + r*0.3)
					}
				}
			}
		}
		for _, words := range wordLists {
			for _, w := range words {
				wl := float64(runeLen(w))
				if vl < minPartialLen || wl < minPartialLen {
					continue
				}
				cov := min(vl, wl) / max(vl, wl)
				if strings.HasPrefix(v, w) || strings.HasPrefix(w, v) {
					if cov >= 0.6 {
						keep(0.75 + cov*0.2)
					}
				} else if strings.HasSuffix(v, w) || strings.HasSuffix(w, v) {
					if cov >= 0.6 {
						keep(0.7 + cov*0.2)
					}
				}
			}
		}
	}

	// whole strings are discounted so word hits win
	for _, pair := range [][2]string{{nu, no}, {userLat, no}, {userCyr, no}, {nu, objLat}, {nu, objCyr}} {
		keep(Ratio(pair[0], pair[1]) * 0.6)
	}

	if runeLen(nu) >= minPartialLen {
		for _, pair := range [][2]string{{nu, no}, {userLat, no}, {userCyr, no}, {nu, objLat}, {nu, objCyr}} {
			if strings.Contains(pair[1], pair[0]) {
				keep(0.8)
			}
		}
	}
	return best
}

// Rank scores every candidate and returns at most MaxMatches with a score
// of at least threshold, best first. Ties keep candidate order.
func Rank(input string, candidates []Candidate, threshold float64) []Match {
	var out []Match
	for _, c := range candidates {
		if s := Score(input, c.Name); s >= threshold {
			out = append(out, Match{Candidate: c, Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > MaxMatches {
		out = out[:MaxMatches]
	}
	return out
}
