package domain

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

type CandidateID string

type ItemID string

const (
	DefaultRatingMin = 1
	DefaultRatingMax = 10
)

type Candidate struct {
	ID   CandidateID `json:"id"`
	Name string      `json:"name"`
}

type Item struct {
	ID        ItemID      `json:"id"`
	Candidate CandidateID `json:"candidate"`
	Label     string      `json:"label"`
	Shared    bool        `json:"shared"`
	Variant   Variant     `json:"variant,omitempty"`
}

type Catalog struct {
	Candidates []Candidate `json:"candidates"`
	Items      []Item      `json:"items"`
	RatingMin  int         `json:"ratingMin"`
	RatingMax  int         `json:"ratingMax"`
}

func SharedItemID(candidate CandidateID, index int) ItemID {
	return ItemID(fmt.Sprintf("%s_shared_%d", candidate, index))
}

func UniqueItemID(candidate CandidateID, variant Variant, index int) ItemID {
	return ItemID(fmt.Sprintf("%s_%s_%d", candidate, variant, index))
}

func (c Catalog) Candidate(id CandidateID) (Candidate, bool) {
	for _, candidate := range c.Candidates {
		if candidate.ID == id {
			return candidate, true
		}
	}

	return Candidate{}, false
}

func (c Catalog) HasCandidate(id CandidateID) bool {
	_, ok := c.Candidate(id)
	return ok
}

func (c Catalog) CandidateName(id CandidateID) string {
	if candidate, ok := c.Candidate(id); ok {
		return candidate.Name
	}

	return string(id)
}

func (c Catalog) Item(id ItemID) (Item, bool) {
	for _, item := range c.Items {
		if item.ID == id {
			return item, true
		}
	}

	return Item{}, false
}

// IsShared classifies an item key. Keys missing from the catalog fall back to
// the "_shared_" naming convention so ratings from an older catalog still count.
func (c Catalog) IsShared(id ItemID) bool {
	if item, ok := c.Item(id); ok {
		return item.Shared
	}

	return strings.Contains(string(id), "_shared_")
}

// ItemsFor returns what a member holding variant reads: every shared item plus
// the unique items of that variant, grouped by candidate.
func (c Catalog) ItemsFor(variant Variant) []Item {
	items := make([]Item, 0, len(c.Items))
	for _, candidate := range c.Candidates {
		for _, item := range c.Items {
			if item.Candidate != candidate.ID {
				continue
			}
			if item.Shared || item.Variant == variant {
				items = append(items, item)
			}
		}
	}

	return items
}

func (c Catalog) ValidateRatings(ratings map[ItemID]int) error {
	for _, id := range slices.Sorted(maps.Keys(ratings)) {
		if _, ok := c.Item(id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownInfoItem, id)
		}
		weight := ratings[id]
		if weight < c.RatingMin || weight > c.RatingMax {
			return fmt.Errorf("%w: %s=%d (allowed %d..%d)", ErrRatingOutOfRange, id, weight, c.RatingMin, c.RatingMax)
		}
	}

	for _, item := range c.Items {
		if _, ok := ratings[item.ID]; !ok {
			return fmt.Errorf("%w: missing %s", ErrIncompleteRatings, item.ID)
		}
	}

	return nil
}

func (c Catalog) Validate() error {
	if len(c.Candidates) == 0 {
		return fmt.Errorf("%w: catalog has no candidates", ErrValidation)
	}
	if len(c.Items) == 0 {
		return fmt.Errorf("%w: catalog has no information items", ErrValidation)
	}
	if c.RatingMin > c.RatingMax {
		return fmt.Errorf("%w: rating min %d exceeds max %d", ErrValidation, c.RatingMin, c.RatingMax)
	}

	seen := make(map[ItemID]struct{}, len(c.Items))
	for _, item := range c.Items {
		if _, ok := seen[item.ID]; ok {
			return fmt.Errorf("%w: duplicate item %s", ErrValidation, item.ID)
		}
		seen[item.ID] = struct{}{}
		if !c.HasCandidate(item.Candidate) {
			return fmt.Errorf("%w: item %s references unknown candidate %s", ErrValidation, item.ID, item.Candidate)
		}
		if !item.Shared && !slices.Contains(Variants, item.Variant) {
			return fmt.Errorf("%w: item %s has unknown variant %q", ErrValidation, item.ID, item.Variant)
		}
	}

	return nil
}
