package catalog

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
)

// tfidf is a TF-IDF vectorizer over the catalog records.
type tfidf struct {
	vocabulary map[string]int
	idf        []float64
}

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "for": {}, "to": {}, "of": {}, "in": {}, "on": {},
	"with": {}, "is": {}, "are": {}, "it": {}, "i": {}, "me": {}, "my": {}, "want": {}, "would": {},
	"like": {}, "something": {}, "looking": {}, "please": {},
	// record field names carry no signal
	"collection": {}, "stone": {}, "metal": {}, "category": {}, "product": {}, "id": {}, "image": {},
	"url": {}, "sizes": {}, "prices": {}, "average": {}, "rating": {}, "stars": {},
}

func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func newTFIDF(corpus []string) (*tfidf, error) {
	if len(corpus) == 0 {
		return nil, errors.New("catalog: empty corpus")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range tokenize(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	if len(terms) == 0 {
		return nil, errors.New("catalog: no tokens in corpus")
	}

	e := &tfidf{
		vocabulary: make(map[string]int, len(terms)),
		idf:        make([]float64, len(terms)),
	}
	n := float64(len(corpus))
	for i, term := range terms {
		e.vocabulary[term] = i
		e.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	return e, nil
}

// embed returns the L2-normalized TF-IDF vector of text. Text with no
// known terms yields the zero vector.
func (e *tfidf) embed(text string) []float64 {
	vec := make([]float64, len(e.idf))
	tf := make(map[int]int)
	total := 0
	for _, tok := range tokenize(text) {
		if idx, ok := e.vocabulary[tok]; ok {
			tf[idx]++
			total++
		}
	}
	if total == 0 {
		return vec
	}
	for idx, count := range tf {
		vec[idx] = float64(count) / float64(total) * e.idf[idx]
	}
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func dot(a, b []float64) float64 {
	n := min(len(a), len(b))
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func isZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
