package board

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/hiddenprofile/internal/application"
	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	Now     time.Time
	Catalog domain.Catalog
	// Stale marks a board built from snapshots that could not be refreshed.
	Stale bool
}

func renderView(board application.Board, opts RenderOptions, s styles) string {
	session := board.Session
	lines := []string{
		s.title.Render(fmt.Sprintf("%s (%s)", session.Name, session.ID)),
		s.header.Render(fmt.Sprintf("status: %s  stage: %s  participants: %d  groups: %d",
			session.Status, session.CurrentStage, len(board.Participants), len(board.Groups))),
	}
	if opts.Stale {
		lines = append(lines, s.warning.Render("[stale] live updates are failing, showing last known state"))
	}

	lines = append(lines, s.section.Render(renderParticipants(board, opts, s)))

	if len(board.Groups) == 0 {
		lines = append(lines, s.section.Render(s.empty.Render("No groups yet. Start the task once at least 3 participants joined.")))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, status := range board.Groups {
		lines = append(lines, s.section.Render(renderGroup(status, board.RequireApproval, opts, s)))
	}
	lines = append(lines, s.section.Render(renderSummary(board.Report, opts, s)))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderParticipants(board application.Board, opts RenderOptions, s styles) string {
	if len(board.Participants) == 0 {
		return s.empty.Render("Waiting for participants to join.")
	}

	parts := []string{s.key.Render("participants:")}
	for _, participant := range board.Participants {
		parts = append(parts, s.detail.Render(fmt.Sprintf("  %s %s",
			participant.Name,
			s.meta.Render("joined "+formatRelative(participant.JoinedAt, opts.Now)))))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderGroup(status application.GroupStatus, requireApproval bool, opts RenderOptions, s styles) string {
	group := status.Group
	members := len(group.Members)

	title := s.group.Render(fmt.Sprintf("%s (%d members)", group.Name, members))
	phase := s.meta.Render(phaseLabel(status.Phase))
	if status.Phase == domain.PhaseRated {
		phase = s.done.Render(phaseLabel(status.Phase))
	}

	ready := lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.key.Render("ready:"),
		" ",
		renderProgressBar(status.Ready, members, 12, s),
		" ",
		lipgloss.NewStyle().Foreground(interpolateColor(float64(status.Ready), 0, float64(members))).
			Render(fmt.Sprintf("%d/%d", status.Ready, members)),
	)

	parts := []string{lipgloss.JoinHorizontal(lipgloss.Top, title, " ", phase), ready}

	names := make([]string, 0, members)
	for _, member := range group.Members {
		mark := "·"
		if group.Ready[member.ID].Ready {
			mark = "✓"
		}
		names = append(names, fmt.Sprintf("%s %s [%s]", mark, member.Name, member.Variant))
	}
	parts = append(parts, s.detail.Render("  "+strings.Join(names, ", ")))

	if group.Decision != nil {
		parts = append(parts, s.detail.Render(fmt.Sprintf("decision: %s", opts.Catalog.CandidateName(group.Decision.Choice))))
		if requireApproval || status.Approved > 0 {
			parts = append(parts, s.detail.Render(fmt.Sprintf("approvals: %d/%d", status.Approved, members)))
		}
	}
	if group.Ratings != nil {
		parts = append(parts, s.detail.Render(fmt.Sprintf("ratings: %d items", len(group.Ratings))))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderSummary(report domain.Report, opts RenderOptions, s styles) string {
	mostChosen := "n/a"
	if report.MostChosen != "" {
		mostChosen = opts.Catalog.CandidateName(report.MostChosen)
	}

	parts := []string{
		s.title.Render("Summary"),
		s.detail.Render(fmt.Sprintf("decisions: %d/%d (%.0f%% complete)", report.DecisionCount, report.GroupCount, report.CompletionRate*100)),
		s.detail.Render("most chosen: " + mostChosen),
	}

	counts := make([]string, 0, len(report.IndividualChoices))
	for _, count := range report.IndividualChoices {
		counts = append(counts, fmt.Sprintf("%s %d", count.Name, count.Count))
	}
	if len(counts) > 0 {
		parts = append(parts, s.detail.Render("individual choices: "+strings.Join(counts, ", ")))
	}

	for _, weight := range report.Weights {
		parts = append(parts, s.detail.Render(fmt.Sprintf("%s bias: %+.2f (shared %.2f, unique %.2f)",
			weight.GroupName, weight.Bias, weight.MeanShared, weight.MeanUnique)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func phaseLabel(phase domain.GroupPhase) string {
	switch phase {
	case domain.PhaseCollecting:
		return "collecting choices"
	case domain.PhaseAllReady:
		return "discussing"
	case domain.PhaseAwaitingApproval:
		return "awaiting approval"
	case domain.PhaseDecided:
		return "rating"
	case domain.PhaseRated:
		return "done"
	default:
		return string(phase)
	}
}

func renderProgressBar(done, total, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	filled := 0
	if total > 0 {
		filled = int(math.Round(float64(width) * float64(done) / float64(total)))
	}
	filled = max(0, min(filled, width))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func formatRelative(at, now time.Time) string {
	if now.IsZero() || at.IsZero() {
		return at.Format("15:04")
	}

	elapsed := now.Sub(at)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		minutes := int(elapsed.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	default:
		return "at " + at.Format("15:04")
	}
}

// interpolateColor maps value onto the 240..255 greyscale ramp, brighter as
// it approaches max.
func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	return lipgloss.Color(fmt.Sprintf("%d", int(240+15*normalized)))
}
