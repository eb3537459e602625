// Package catalog owns the product catalog the assistant retrieves from:
// the YAML source format, the candidate-record text format the similarity
// search returns, and the parser that turns that text back into products.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Size is one purchasable size of a catalog product.
type Size struct {
	Name  string  `yaml:"name"`
	Price float64 `yaml:"price"`
}

// Product is one catalog entry.
type Product struct {
	ID         int     `yaml:"id"`
	Collection string  `yaml:"collection"`
	Category   string  `yaml:"category"`
	Stone      string  `yaml:"stone"`
	Metal      string  `yaml:"metal"`
	ImageURL   string  `yaml:"image_url"`
	Rating     float64 `yaml:"rating"`
	Sizes      []Size  `yaml:"sizes"`
}

type document struct {
	Products []Product `yaml:"products"`
}

// Decode parses a YAML catalog document.
func Decode(data []byte) ([]Product, error) {
	return DecodeParts([][]byte{data})
}

// DecodeParts parses a catalog split across several YAML documents and
// validates the combined product list.
func DecodeParts(parts [][]byte) ([]Product, error) {
	var products []Product
	for i, data := range parts {
		var doc document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("catalog: decode yaml part %d: %w", i, err)
		}
		products = append(products, doc.Products...)
	}
	if len(products) == 0 {
		return nil, errors.New("catalog: no products")
	}
	seen := make(map[int]struct{}, len(products))
	for i, p := range products {
		if p.ID <= 0 {
			return nil, fmt.Errorf("catalog: product %d: id must be positive", i)
		}
		if strings.TrimSpace(p.Collection) == "" {
			return nil, fmt.Errorf("catalog: product %d: collection is required", p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate product id %d", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return products, nil
}

// Loader returns the catalog products.
type Loader func(ctx context.Context) ([]Product, error)

// FileLoader reads a YAML catalog from disk.
func FileLoader(path string) Loader {
	return func(_ context.Context) ([]Product, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read %s: %w", path, err)
		}
		return Decode(data)
	}
}

// PathGetter reads every parameter stored under a path, ordered by name.
type PathGetter interface {
	GetParametersByPath(ctx context.Context, path string) ([]string, error)
}

// ParamLoader reads a YAML catalog stored as one or more parameters under
// path, so catalogs larger than a single parameter can be split.
func ParamLoader(getter PathGetter, path string) Loader {
	return func(ctx context.Context) ([]Product, error) {
		values, err := getter.GetParametersByPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("catalog: load parameters: %w", err)
		}
		parts := make([][]byte, 0, len(values))
		for _, v := range values {
			parts = append(parts, []byte(v))
		}
		return DecodeParts(parts)
	}
}

// Record renders p in the candidate-record format understood by
// ParseCandidates.
func (p Product) Record() string {
	sizes := make([]string, 0, len(p.Sizes))
	for _, s := range p.Sizes {
		sizes = append(sizes, fmt.Sprintf("%s: $%.2f", s.Name, s.Price))
	}
	fields := []string{
		fieldCollection + ": " + p.Collection,
		fieldStone + ": " + p.Stone,
		fieldMetal + ": " + p.Metal,
		fieldCategory + ": " + p.Category,
		fieldProductID + ": " + strconv.Itoa(p.ID),
		fieldImageURL + ": " + p.ImageURL,
		fieldSizes + ": " + strings.Join(sizes, ", "),
		fieldRating + ": " + strconv.FormatFloat(p.Rating, 'f', 1, 64) + " " + recordTerminator,
	}
	return strings.Join(fields, "; ")
}
