package domain

// SizePrice is one purchasable size of a product.
type SizePrice struct {
	Size  string
	Price float64
}

// CandidateProduct is one product record parsed out of retrieved context.
type CandidateProduct struct {
	Collection string
	Stone      string
	Metal      string
	Category   string
	ID         int
	ImageURL   string
	Sizes      []SizePrice
	Rating     float64
	Raw        string
}

// MatchResult is the outcome of matching candidates against preferences.
// Exactly one of Found and NotFound describes it: when Found is true,
// Index and Product identify the winner; otherwise Reason explains why.
type MatchResult struct {
	Found   bool
	Index   int
	Product CandidateProduct
	Reason  string
}

// Matched builds the Found variant.
func Matched(index int, p CandidateProduct) MatchResult {
	return MatchResult{Found: true, Index: index, Product: p}
}

// NotMatched builds the NotFound variant.
func NotMatched(reason string) MatchResult {
	return MatchResult{Reason: reason}
}
