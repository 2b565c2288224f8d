package domain

import "math"

type ChoiceCount struct {
	Candidate CandidateID `json:"candidate"`
	Name      string      `json:"name"`
	Count     int         `json:"count"`
}

type GroupChoice struct {
	GroupID    GroupID     `json:"groupId"`
	GroupName  string      `json:"groupName"`
	Choice     CandidateID `json:"choice"`
	ChoiceName string      `json:"choiceName"`
	Approved   bool        `json:"approved"`
}

type WeightAnalysis struct {
	GroupID    GroupID     `json:"groupId"`
	GroupName  string      `json:"groupName"`
	Choice     CandidateID `json:"choice,omitempty"`
	MeanShared float64     `json:"meanShared"`
	MeanUnique float64     `json:"meanUnique"`
	Bias       float64     `json:"bias"`
}

type Report struct {
	IndividualChoices []ChoiceCount    `json:"individualChoices"`
	GroupChoices      []GroupChoice    `json:"groupChoices"`
	Weights           []WeightAnalysis `json:"weights"`
	GroupCount        int              `json:"groupCount"`
	DecisionCount     int              `json:"decisionCount"`
	CompletionRate    float64          `json:"completionRate"`
	MostChosen        CandidateID      `json:"mostChosen,omitempty"`
}

// Analyze summarizes a session. It is pure: the same inputs always give the same report.
func Analyze(catalog Catalog, groups []Group, decisions []Decision) Report {
	report := Report{
		IndividualChoices: make([]ChoiceCount, 0, len(catalog.Candidates)),
		GroupChoices:      make([]GroupChoice, 0, len(groups)),
		Weights:           make([]WeightAnalysis, 0, len(groups)),
		GroupCount:        len(groups),
		DecisionCount:     len(decisions),
	}

	counts := make(map[CandidateID]int, len(catalog.Candidates))
	for _, group := range groups {
		for _, entry := range group.Ready {
			if entry.IndividualChoice != "" {
				counts[entry.IndividualChoice]++
			}
		}
	}
	for _, candidate := range catalog.Candidates {
		report.IndividualChoices = append(report.IndividualChoices, ChoiceCount{
			Candidate: candidate.ID,
			Name:      candidate.Name,
			Count:     counts[candidate.ID],
		})
	}

	approved := make(map[GroupID]bool, len(decisions))
	for _, decision := range decisions {
		approved[decision.GroupID] = true
	}

	groupCounts := make(map[CandidateID]int, len(catalog.Candidates))
	for _, group := range groups {
		if group.Decision != nil {
			report.GroupChoices = append(report.GroupChoices, GroupChoice{
				GroupID:    group.ID,
				GroupName:  group.Name,
				Choice:     group.Decision.Choice,
				ChoiceName: catalog.CandidateName(group.Decision.Choice),
				Approved:   approved[group.ID],
			})
			groupCounts[group.Decision.Choice]++
		}

		if group.Ratings != nil {
			report.Weights = append(report.Weights, weightAnalysis(catalog, group))
		}
	}

	best := 0
	for _, candidate := range catalog.Candidates {
		if groupCounts[candidate.ID] > best {
			best = groupCounts[candidate.ID]
			report.MostChosen = candidate.ID
		}
	}

	if len(groups) > 0 {
		report.CompletionRate = round2(float64(len(decisions)) / float64(len(groups)))
	}

	return report
}

func weightAnalysis(catalog Catalog, group Group) WeightAnalysis {
	var sharedSum, uniqueSum, sharedN, uniqueN int
	for id, weight := range group.Ratings {
		if catalog.IsShared(id) {
			sharedSum += weight
			sharedN++
			continue
		}
		uniqueSum += weight
		uniqueN++
	}

	analysis := WeightAnalysis{
		GroupID:    group.ID,
		GroupName:  group.Name,
		MeanShared: mean(sharedSum, sharedN),
		MeanUnique: mean(uniqueSum, uniqueN),
	}
	if group.Decision != nil {
		analysis.Choice = group.Decision.Choice
	}
	analysis.Bias = round2(analysis.MeanShared - analysis.MeanUnique)

	return analysis
}

func mean(sum, n int) float64 {
	if n == 0 {
		return 0
	}

	return round2(float64(sum) / float64(n))
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
