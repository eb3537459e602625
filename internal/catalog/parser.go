package catalog

import (
	"strconv"
	"strings"

	"gem-concierge/internal/domain"
)

// Candidate record grammar:
//
//	record := "Collection:" value ";" { name ":" value ";" } "Average rating:" number " stars;"
//
// A record starts at recordStart and ends at the first recordTerminator
// after it. Values must not contain ';'.
const (
	recordStart      = fieldCollection + ":"
	recordTerminator = "stars;"

	fieldCollection = "Collection"
	fieldStone      = "Stone"
	fieldMetal      = "Metal"
	fieldCategory   = "Category"
	fieldProductID  = "Product ID"
	fieldImageURL   = "Image URL"
	fieldSizes      = "Sizes and prices"
	fieldRating     = "Average rating"
)

// ParseCandidates splits retrieved context into candidate products. Records
// that do not satisfy the grammar are dropped; text without any well-formed
// record yields an empty slice.
func ParseCandidates(context string) []domain.CandidateProduct {
	var out []domain.CandidateProduct
	rest := context
	for {
		start := strings.Index(rest, recordStart)
		if start == -1 {
			return out
		}
		rest = rest[start:]

		end := strings.Index(rest, recordTerminator)
		if end == -1 {
			return out
		}
		end += len(recordTerminator)

		// A second start token before the terminator means the first record
		// was cut off; resume from the second one.
		if next := strings.Index(rest[len(recordStart):end], recordStart); next != -1 {
			rest = rest[len(recordStart)+next:]
			continue
		}

		if p, ok := parseRecord(rest[:end]); ok {
			out = append(out, p)
		}
		rest = rest[end:]
	}
}

func parseRecord(raw string) (domain.CandidateProduct, bool) {
	p := domain.CandidateProduct{Raw: strings.TrimSpace(raw)}
	body := strings.TrimSuffix(p.Raw, ";")

	hasID := false
	for _, field := range strings.Split(body, ";") {
		name, value, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		switch name {
		case fieldCollection:
			p.Collection = value
		case fieldStone:
			p.Stone = value
		case fieldMetal:
			p.Metal = value
		case fieldCategory:
			p.Category = value
		case fieldProductID:
			id, err := strconv.Atoi(value)
			if err != nil || id <= 0 {
				return domain.CandidateProduct{}, false
			}
			p.ID = id
			hasID = true
		case fieldImageURL:
			p.ImageURL = value
		case fieldSizes:
			p.Sizes = parseSizes(value)
		case fieldRating:
			v := strings.TrimSpace(strings.TrimSuffix(value, "stars"))
			if r, err := strconv.ParseFloat(v, 64); err == nil {
				p.Rating = r
			}
		}
	}
	if !hasID || p.Collection == "" {
		return domain.CandidateProduct{}, false
	}
	return p, true
}

func parseSizes(value string) []domain.SizePrice {
	var out []domain.SizePrice
	for _, tuple := range strings.Split(value, ", ") {
		i := strings.LastIndex(tuple, ": $")
		if i == -1 {
			continue
		}
		size := strings.TrimSpace(tuple[:i])
		price, err := strconv.ParseFloat(strings.ReplaceAll(tuple[i+3:], ",", ""), 64)
		if size == "" || err != nil {
			continue
		}
		out = append(out, domain.SizePrice{Size: size, Price: price})
	}
	return out
}
