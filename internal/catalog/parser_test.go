package catalog

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"gem-concierge/internal/domain"
)

const daisyRecord = "Collection: Daisy; Stone: diamond; Metal: white gold; Category: earrings; Product ID: 1; " +
	"Image URL: https://cdn.example.com/daisy.webp; Sizes and prices: Small: $1250.00, Medium: $1480.00; Average rating: 4.7 stars;"

const gerberaRecord = "Collection: Gerbera; Stone: ruby; Metal: rose gold; Category: rings; Product ID: 3; " +
	"Image URL: https://cdn.example.com/gerbera.webp; Sizes and prices: Medium: $2100.00; Average rating: 4.3 stars;"

func TestParseCandidates_Empty(t *testing.T) {
	require.Empty(t, ParseCandidates(""))
	require.Empty(t, ParseCandidates("We ship worldwide within five business days."))
}

func TestParseCandidates_SingleRecord(t *testing.T) {
	got := ParseCandidates(daisyRecord)
	require.Len(t, got, 1)
	p := got[0]
	require.Equal(t, "Daisy", p.Collection)
	require.Equal(t, "diamond", p.Stone)
	require.Equal(t, "white gold", p.Metal)
	require.Equal(t, "earrings", p.Category)
	require.Equal(t, 1, p.ID)
	require.Equal(t, "https://cdn.example.com/daisy.webp", p.ImageURL)
	require.Equal(t, []domain.SizePrice{{Size: "Small", Price: 1250}, {Size: "Medium", Price: 1480}}, p.Sizes)
	require.InDelta(t, 4.7, p.Rating, 1e-9)
	require.Equal(t, daisyRecord, p.Raw)
}

func TestParseCandidates_NewlineSeparatedRecords(t *testing.T) {
	got := ParseCandidates(daisyRecord + "\n" + gerberaRecord)
	require.Len(t, got, 2)
	require.Equal(t, 1, got[0].ID)
	require.Equal(t, 3, got[1].ID)
}

func TestParseCandidates_IgnoresTextBetweenRecords(t *testing.T) {
	got := ParseCandidates("Top picks:\n" + daisyRecord + "\n-- more --\n" + gerberaRecord + "\nThanks")
	require.Len(t, got, 2)
}

func TestParseCandidates_MissingTerminatorDropsTail(t *testing.T) {
	truncated := strings.TrimSuffix(gerberaRecord, "4.3 stars;")
	got := ParseCandidates(daisyRecord + "\n" + truncated)
	require.Len(t, got, 1)
	require.Equal(t, "Daisy", got[0].Collection)
}

func TestParseCandidates_CutOffRecordIsSkipped(t *testing.T) {
	cut := "Collection: Broken; Stone: pearl; Metal: "
	got := ParseCandidates(cut + gerberaRecord)
	require.Len(t, got, 1)
	require.Equal(t, "Gerbera", got[0].Collection)
}

func TestParseCandidates_RejectsNonNumericID(t *testing.T) {
	bad := strings.Replace(daisyRecord, "Product ID: 1", "Product ID: one", 1)
	require.Empty(t, ParseCandidates(bad))
}

func TestParseCandidates_RejectsMissingID(t *testing.T) {
	bad := strings.Replace(daisyRecord, "Product ID: 1; ", "", 1)
	require.Empty(t, ParseCandidates(bad))
}

func TestParseCandidates_SkipsMalformedSizeTuples(t *testing.T) {
	rec := strings.Replace(daisyRecord, "Small: $1250.00, Medium: $1480.00", "Small: $abc, Medium: $1480.00, oops", 1)
	got := ParseCandidates(rec)
	require.Len(t, got, 1)
	require.Equal(t, []domain.SizePrice{{Size: "Medium", Price: 1480}}, got[0].Sizes)
}

func TestRecord_RoundTripsThroughParser(t *testing.T) {
	products, err := FileLoader("testdata/catalog.yaml")(t.Context())
	require.NoError(t, err)

	var blob []string
	for _, p := range products {
		blob = append(blob, p.Record())
	}
	got := ParseCandidates(strings.Join(blob, "\n"))
	require.Len(t, got, len(products))
	for i, p := range products {
		require.Equal(t, p.ID, got[i].ID)
		require.Equal(t, p.Collection, got[i].Collection)
		require.Equal(t, p.Metal, got[i].Metal)
		require.Len(t, got[i].Sizes, len(p.Sizes))
	}
}

func TestParseCandidates_FullRecordShape(t *testing.T) {
	got := ParseCandidates("Top picks:\n" + gerberaRecord + "\n" + daisyRecord)
	want := []domain.CandidateProduct{
		{
			Collection: "Gerbera",
			Stone:      "ruby",
			Metal:      "rose gold",
			Category:   "rings",
			ID:         3,
			ImageURL:   "https://cdn.example.com/gerbera.webp",
			Sizes:      []domain.SizePrice{{Size: "Medium", Price: 2100}},
			Rating:     4.3,
		},
		{
			Collection: "Daisy",
			Stone:      "diamond",
			Metal:      "white gold",
			Category:   "earrings",
			ID:         1,
			ImageURL:   "https://cdn.example.com/daisy.webp",
			Sizes:      []domain.SizePrice{{Size: "Small", Price: 1250}, {Size: "Medium", Price: 1480}},
			Rating:     4.7,
		},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(domain.CandidateProduct{}, "Raw")); diff != "" {
		t.Errorf("ParseCandidates() mismatch (-want +got):\n%s", diff)
	}
}
