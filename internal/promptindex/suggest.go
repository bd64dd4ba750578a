package promptindex

import (
	"context"
	"sort"
	"unicode/utf8"
)

// Suggest returns up to max prompt terms within two edits of term (transpositions
// count as one edit), ordered by distance and then by document frequency. Terms
// shorter than three characters get no suggestions.
func (b *BleveIndex) Suggest(ctx context.Context, term string, max int) ([]string, error) {
	words := tokenizeQuery(term)
	if len(words) != 1 || utf8.RuneCountInString(words[0]) < 3 {
		return nil, nil
	}
	term = words[0]
	if max <= 0 {
		max = 3
	}

	dict, err := b.index.FieldDict("prompt")
	if err != nil {
		return nil, err
	}
	defer dict.Close()

	type candidate struct {
		term string
		dist int
		freq uint64
	}
	var found []candidate
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := dict.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		if entry.Term == term {
			continue
		}
		if abs(utf8.RuneCountInString(entry.Term)-utf8.RuneCountInString(term)) > 2 {
			continue
		}
		if d := editDistance(term, entry.Term); d <= 2 {
			found = append(found, candidate{term: entry.Term, dist: d, freq: entry.Count})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].dist != found[j].dist {
			return found[i].dist < found[j].dist
		}
		if found[i].freq != found[j].freq {
			return found[i].freq > found[j].freq
		}
		return found[i].term < found[j].term
	})
	if len(found) > max {
		found = found[:max]
	}
	out := make([]string, len(found))
	for i, c := range found {
		out[i] = c.term
	}
	return out, nil
}

// editDistance is the optimal string alignment distance between a and b: insertions,
// deletions, substitutions and adjacent transpositions each cost one.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	d := make([][]int, len(ra)+1)
	for i := range d {
		d[i] = make([]int, len(rb)+1)
		d[i][0] = i
	}
	for j := range d[0] {
		d[0][j] = j
	}
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d[i][j] = min(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				d[i][j] = min(d[i][j], d[i-2][j-2]+cost)
			}
		}
	}
	return d[len(ra)][len(rb)]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
