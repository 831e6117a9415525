package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"token-sale-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// SaleFile is the YAML layout of a static sale definition. Times are either
// absolute RFC 3339 values or offsets relative to the moment the file is loaded.
type SaleFile struct {
	TokenName       string `yaml:"token_name"`
	TokenSymbol     string `yaml:"token_symbol"`
	PricePerToken   string `yaml:"price_per_token"`
	TokensLeft      string `yaml:"tokens_left"`
	TotalTokens     string `yaml:"total_tokens"`
	MinContribution string `yaml:"min_contribution"`
	MaxContribution string `yaml:"max_contribution"`
	Start           string `yaml:"start"`
	End             string `yaml:"end"`
	StartOffset     string `yaml:"start_offset"`
	EndOffset       string `yaml:"end_offset"`
}

// StaticSource serves the same snapshot on every fetch. It stands in for the
// contract in demos and tests.
type StaticSource struct {
	snapshot models.SaleSnapshot
}

func NewStaticSource(s models.SaleSnapshot) *StaticSource {
	return &StaticSource{snapshot: s}
}

// LoadStaticSource reads a sale definition from a YAML file.
func LoadStaticSource(saleFile string, now time.Time) (*StaticSource, error) {
	path := saleFile
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, saleFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", saleFile, err)
	}
	snap, err := ParseSaleFile(data, now)
	if err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", saleFile, err)
	}
	return NewStaticSource(snap), nil
}

// ParseSaleFile decodes YAML sale data into a validated snapshot.
func ParseSaleFile(data []byte, now time.Time) (models.SaleSnapshot, error) {
	var f SaleFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return models.SaleSnapshot{}, err
	}

	p := models.SaleSnapshotParams{
		TokenName:   f.TokenName,
		TokenSymbol: f.TokenSymbol,
		FetchedAt:   now,
	}
	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"price_per_token", f.PricePerToken, &p.PricePerToken},
		{"tokens_left", f.TokensLeft, &p.TokensLeft},
		{"total_tokens", f.TotalTokens, &p.TotalTokens},
		{"min_contribution", f.MinContribution, &p.MinContribution},
		{"max_contribution", f.MaxContribution, &p.MaxContribution},
	}
	for _, field := range fields {
		d, err := decimal.NewFromString(field.value)
		if err != nil {
			return models.SaleSnapshot{}, fmt.Errorf("invalid %s %q: %w", field.name, field.value, err)
		}
		*field.dst = d
	}

	var err error
	if p.SaleStart, err = saleTime("start", f.Start, f.StartOffset, now); err != nil {
		return models.SaleSnapshot{}, err
	}
	if p.SaleEnd, err = saleTime("end", f.End, f.EndOffset, now); err != nil {
		return models.SaleSnapshot{}, err
	}
	return models.NewSaleSnapshot(p)
}

func saleTime(name, absolute, offset string, now time.Time) (time.Time, error) {
	switch {
	case absolute != "" && offset != "":
		return time.Time{}, fmt.Errorf("%s and %s_offset are mutually exclusive", name, name)
	case absolute != "":
		t, err := time.Parse(time.RFC3339, absolute)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s %q: %w", name, absolute, err)
		}
		return t, nil
	case offset != "":
		d, err := time.ParseDuration(offset)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s_offset %q: %w", name, offset, err)
		}
		return now.Add(d), nil
	default:
		return time.Time{}, fmt.Errorf("missing %s", name)
	}
}

func (s *StaticSource) FetchSaleSnapshot(context.Context) (models.SaleSnapshot, error) {
	snap := s.snapshot
	snap.FetchedAt = time.Now().UTC()
	return snap, nil
}
