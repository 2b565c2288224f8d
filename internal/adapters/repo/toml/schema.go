package toml

import (
	"fmt"
	"slices"

	"github.com/bnema/hiddenprofile/internal/domain"
)

const currentSchemaVersion = 1

type catalogFileSchema struct {
	Version    int               `toml:"version"`
	Rating     ratingSchema      `toml:"rating"`
	Candidates []candidateSchema `toml:"candidates"`
}

func (s *catalogFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
	if s.Rating.Min == 0 && s.Rating.Max == 0 {
		s.Rating.Min = domain.DefaultRatingMin
		s.Rating.Max = domain.DefaultRatingMax
	}
}

func (s catalogFileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported catalog schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type ratingSchema struct {
	Min int `toml:"min"`
	Max int `toml:"max"`
}

type candidateSchema struct {
	ID     string              `toml:"id"`
	Name   string              `toml:"name"`
	Shared []string            `toml:"shared"`
	Unique map[string][]string `toml:"unique"`
}

func (s catalogFileSchema) toDomain() domain.Catalog {
	catalog := domain.Catalog{
		Candidates: make([]domain.Candidate, 0, len(s.Candidates)),
		RatingMin:  s.Rating.Min,
		RatingMax:  s.Rating.Max,
	}

	for _, entry := range s.Candidates {
		id := domain.CandidateID(entry.ID)
		catalog.Candidates = append(catalog.Candidates, domain.Candidate{ID: id, Name: entry.Name})

		for i, label := range entry.Shared {
			catalog.Items = append(catalog.Items, domain.Item{
				ID:        domain.SharedItemID(id, i),
				Candidate: id,
				Label:     label,
				Shared:    true,
			})
		}
		for _, variant := range variantOrder(entry.Unique) {
			for i, label := range entry.Unique[string(variant)] {
				catalog.Items = append(catalog.Items, domain.Item{
					ID:        domain.UniqueItemID(id, variant, i),
					Candidate: id,
					Label:     label,
					Variant:   variant,
				})
			}
		}
	}

	return catalog
}

// variantOrder lists known variants first in their canonical order, then any
// unknown keys sorted, so Validate can report them.
func variantOrder(unique map[string][]string) []domain.Variant {
	order := make([]domain.Variant, 0, len(unique))
	for _, variant := range domain.Variants {
		if _, ok := unique[string(variant)]; ok {
			order = append(order, variant)
		}
	}

	extra := make([]string, 0)
	for key := range unique {
		if !slices.Contains(domain.Variants, domain.Variant(key)) {
			extra = append(extra, key)
		}
	}
	slices.Sort(extra)
	for _, key := range extra {
		order = append(order, domain.Variant(key))
	}

	return order
}

type reportFileSchema struct {
	Version           int                 `toml:"version"`
	Session           reportSessionSchema `toml:"session"`
	Summary           reportSummarySchema `toml:"summary"`
	IndividualChoices []choiceCountSchema `toml:"individual_choices"`
	Groups            []reportGroupSchema `toml:"groups"`
}

type reportSessionSchema struct {
	ID         string `toml:"id"`
	Name       string `toml:"name"`
	CreatedAt  string `toml:"created_at"`
	ExportedAt string `toml:"exported_at"`
}

type reportSummarySchema struct {
	GroupCount     int     `toml:"group_count"`
	DecisionCount  int     `toml:"decision_count"`
	CompletionRate float64 `toml:"completion_rate"`
	MostChosen     string  `toml:"most_chosen,omitempty"`
}

type choiceCountSchema struct {
	Candidate string `toml:"candidate"`
	Name      string `toml:"name"`
	Count     int    `toml:"count"`
}

type reportGroupSchema struct {
	ID         string  `toml:"id"`
	Name       string  `toml:"name"`
	Choice     string  `toml:"choice,omitempty"`
	Approved   bool    `toml:"approved"`
	MeanShared float64 `toml:"mean_shared"`
	MeanUnique float64 `toml:"mean_unique"`
	Bias       float64 `toml:"bias"`
}
