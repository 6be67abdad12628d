package agent

import (
	"fmt"
	"strings"

	"github.com/transflow/api/internal/model"
)

// glossaryLimit caps how many glossary lines are sent with one prompt.
const glossaryLimit = 200

type quality string

const (
	qualityReview quality = "review"
	qualityFinal  quality = "final"
)

// persona is the shared part of every system prompt.
type persona struct {
	role    string
	domain  string
	quality quality
}

func (p persona) system(st *State, jsonOut bool, requirements ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s.", p.role)

	domain := p.domain
	if st.Domain != "" {
		domain = st.Domain
	}
	if domain != "" && domain != "general" {
		fmt.Fprintf(&b, " You specialise in %s content.", domain)
	}

	if st.SourceLanguage != "" || st.TargetLanguage != "" {
		fmt.Fprintf(&b, "\nLanguage pair: %s -> %s.", languageOrAuto(st.SourceLanguage), languageOrAuto(st.TargetLanguage))
	}

	switch p.quality {
	case qualityFinal:
		b.WriteString("\nThe output is publication ready and needs no further editing.")
	default:
		b.WriteString("\nThe output will be reviewed by a human linguist.")
	}

	if jsonOut {
		b.WriteString("\nRespond with a single valid JSON object and nothing else.")
	} else {
		b.WriteString("\nRespond with the requested text only, without commentary, quotes or markdown.")
	}

	if len(requirements) > 0 {
		b.WriteString("\nRequirements:")
		for i, r := range requirements {
			fmt.Fprintf(&b, "\n%d) %s", i+1, r)
		}
	}
	return b.String()
}

func languageOrAuto(lang string) string {
	if lang == "" {
		return "auto"
	}
	return lang
}

// userPreference renders the optional free-form instruction of a request.
func userPreference(pref string) string {
	pref = strings.TrimSpace(pref)
	if pref == "" {
		return ""
	}
	return "User preference: " + pref + "\n\n"
}

// glossaryBlock renders at most glossaryLimit entries as "term => translation".
func glossaryBlock(dict []model.DictEntry) string {
	var lines []string
	for _, d := range dict {
		if len(lines) == glossaryLimit {
			break
		}
		if strings.TrimSpace(d.Term) == "" || strings.TrimSpace(d.Translation) == "" {
			continue
		}
		lines = append(lines, d.Term+" => "+d.Translation)
	}
	if len(lines) == 0 {
		return ""
	}
	return "Glossary (use these translations verbatim):\n" + strings.Join(lines, "\n")
}

// formatIssues renders QA findings as "#i [TYPE] span | advice".
func formatIssues(issues []model.Issue) string {
	lines := make([]string, 0, len(issues))
	for i, is := range issues {
		typ := is.Type
		if typ == "" {
			typ = "ISSUE"
		}
		line := fmt.Sprintf("#%d [%s] ", i+1, typ)
		if is.Span != "" {
			line += is.Span + " | "
		}
		line += is.Advice
		lines = append(lines, strings.TrimSpace(line))
	}
	return strings.Join(lines, "\n")
}

// formatReferences renders memory hits with their similarity in percent.
func formatReferences(hits []model.MemoryHit) string {
	blocks := make([]string, 0, len(hits))
	for i, h := range hits {
		blocks = append(blocks, fmt.Sprintf("%d. Similarity: %d%%\n   Source: %s\n   Target: %s",
			i+1, int(h.Score*100+0.5), h.Source, h.Target))
	}
	return strings.Join(blocks, "\n\n")
}
