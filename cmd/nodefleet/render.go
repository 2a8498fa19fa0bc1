// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/charmbracelet/glamour"

	"github.com/invowk/nodefleet/internal/config"
	"github.com/invowk/nodefleet/internal/deploy"
	"github.com/invowk/nodefleet/internal/fleet"
	"github.com/invowk/nodefleet/internal/issue"
)

// renderHints prints the suggestions attached to err. In verbose mode the
// error chain and the matching issue catalog entry follow.
func renderHints(w io.Writer, err error, s *session) {
	verbose := s != nil && s.verbose

	var ae *issue.ActionableError
	if errors.As(err, &ae) && (ae.HasSuggestions() || verbose) {
		for _, sug := range ae.Suggestions {
			fmt.Fprintln(w, hintStyle.Render("  • "+sug))
		}
		if verbose && ae.Cause != nil {
			fmt.Fprintln(w, VerboseStyle.Render("\nError chain:"))
			depth := 1
			for e := ae.Cause; e != nil; e = errors.Unwrap(e) {
				fmt.Fprintln(w, VerboseStyle.Render(fmt.Sprintf("  %d. %s", depth, e.Error())))
				depth++
			}
		}
	}

	if !verbose {
		return
	}
	if id := issueFor(err); id != 0 {
		renderIssue(w, id, s.cfg)
	}
}

// renderFailures prints one catalog entry per distinct failure kind.
func renderFailures(w io.Writer, results []deploy.Result, s *session) {
	if !s.verbose {
		return
	}
	var ids []issue.Id
	for _, r := range deploy.Failed(results) {
		kind, ok := deploy.KindOf(r.Err)
		if !ok {
			continue
		}
		if id := kind.IssueID(); id != 0 && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		renderIssue(w, id, s.cfg)
	}
}

func renderIssue(w io.Writer, id issue.Id, cfg *config.Config) {
	entry := issue.Get(id)
	if entry == nil {
		return
	}
	rendered, err := entry.Render(glamourStyle(cfg))
	if err != nil {
		fmt.Fprintf(w, "%s\n\n%s\n", entry.Title(), entry.MarkdownMsg())
		return
	}
	fmt.Fprint(w, rendered)
}

// renderMarkdown renders md for the terminal, or returns it unchanged when
// plain output is requested.
func renderMarkdown(md string, cfg *config.Config, plain bool) (string, error) {
	if plain {
		return md, nil
	}
	return glamour.Render(md, glamourStyle(cfg))
}

// glamourStyle maps the configured color scheme onto a glamour standard style.
func glamourStyle(cfg *config.Config) string {
	if cfg == nil || cfg.UI.ColorScheme == "" {
		return string(config.ColorSchemeAuto)
	}
	return string(cfg.UI.ColorScheme)
}

func issueFor(err error) issue.Id {
	switch {
	case isEngineError(err):
		return issue.ContainerEngineNotFoundId
	case errors.Is(err, fleet.ErrInvalidFleet), errors.Is(err, fleet.ErrFleetNotFound):
		return issue.FleetInvalidId
	case errors.Is(err, config.ErrInvalidConfig):
		return issue.ConfigLoadFailedId
	}
	if kind, ok := deploy.KindOf(err); ok {
		return kind.IssueID()
	}
	return 0
}
