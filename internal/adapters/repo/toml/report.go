package toml

import (
	"context"
	"time"

	"github.com/bnema/hiddenprofile/internal/domain"
)

// ReportWriter exports a session's analysis to a TOML file.
type ReportWriter struct {
	path string
}

func NewReportWriter(path string) (*ReportWriter, error) {
	path, err := normalizePath(path)
	if err != nil {
		return nil, err
	}

	return &ReportWriter{path: path}, nil
}

func (w *ReportWriter) Path() string {
	return w.path
}

func (w *ReportWriter) Write(ctx context.Context, session domain.Session, report domain.Report, exportedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mu := lockForPath(w.path)
	mu.Lock()
	defer mu.Unlock()

	return writeTOMLFile(w.path, toReportSchema(session, report, exportedAt))
}

func toReportSchema(session domain.Session, report domain.Report, exportedAt time.Time) reportFileSchema {
	file := reportFileSchema{
		Version: currentSchemaVersion,
		Session: reportSessionSchema{
			ID:         string(session.ID),
			Name:       session.Name,
			CreatedAt:  formatTime(session.CreatedAt),
			ExportedAt: formatTime(exportedAt),
		},
		Summary: reportSummarySchema{
			GroupCount:     report.GroupCount,
			DecisionCount:  report.DecisionCount,
			CompletionRate: report.CompletionRate,
			MostChosen:     string(report.MostChosen),
		},
		IndividualChoices: make([]choiceCountSchema, 0, len(report.IndividualChoices)),
		Groups:            make([]reportGroupSchema, 0, len(report.GroupChoices)),
	}

	for _, count := range report.IndividualChoices {
		file.IndividualChoices = append(file.IndividualChoices, choiceCountSchema{
			Candidate: string(count.Candidate),
			Name:      count.Name,
			Count:     count.Count,
		})
	}

	weights := make(map[domain.GroupID]domain.WeightAnalysis, len(report.Weights))
	for _, weight := range report.Weights {
		weights[weight.GroupID] = weight
	}
	for _, choice := range report.GroupChoices {
		weight := weights[choice.GroupID]
		file.Groups = append(file.Groups, reportGroupSchema{
			ID:         string(choice.GroupID),
			Name:       choice.GroupName,
			Choice:     string(choice.Choice),
			Approved:   choice.Approved,
			MeanShared: weight.MeanShared,
			MeanUnique: weight.MeanUnique,
			Bias:       weight.Bias,
		})
	}

	return file
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339)
}
