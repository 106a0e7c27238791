package engine

import (
	"regexp"
	"strings"
)

// markerPattern matches every recognized `<!-- NAME: value -->` or bare
// `<!-- NAME -->` directive in one pass. Group 1 is the marker name, group
// 2 is its value (empty for bare markers). The source order of matches is
// preserved for debugging but is semantically unordered — each marker
// writes into an independent field of the output Result.
var markerPattern = regexp.MustCompile(`<!--\s*([A-Z_]+)\s*(?::\s*(.*?))?\s*-->`)

var summaryPattern = regexp.MustCompile(`(?s)<!--\s*SUMMARY\s*-->(.*?)<!--\s*/SUMMARY\s*-->`)
var detailsPattern = regexp.MustCompile(`(?s)<!--\s*DETAILS\s*-->(.*?)<!--\s*/DETAILS\s*-->`)

// applyMarkers extracts every recognized marker from output and populates
// the corresponding Result fields. The marker text itself is stripped from
// Result.Output so the presented text reads cleanly.
func applyMarkers(r *Result, output string) {
	if m := summaryPattern.FindStringSubmatch(output); m != nil {
		r.Summary = strings.TrimSpace(m[1])
	}
	if m := detailsPattern.FindStringSubmatch(output); m != nil {
		r.Details = strings.TrimSpace(m[1])
	}

	for _, m := range markerPattern.FindAllStringSubmatch(output, -1) {
		name, value := m[1], strings.TrimSpace(m[2])
		switch name {
		case "FILE":
			if value != "" {
				r.Files = append(r.Files, value)
			}
		case "ATTACH":
			if value != "" {
				r.Attachments = append(r.Attachments, value)
			}
		case "IMAGE_GEN":
			if value != "" {
				r.ImageGenPrompts = append(r.ImageGenPrompts, value)
			}
		case "LIST_RUN":
			if value != "" {
				r.ListRun = &ListRun{Name: value}
			}
		case "UPDATE":
			r.UpdateRequested = true
		case "RESTART":
			r.RestartRequested = true
		}
	}

	r.Output = strings.TrimSpace(stripMarkers(output))
}

// paddedMarkerPattern matches a marker together with the spaces or tabs
// around it, so a marker removed from the middle of a line leaves a single
// space behind rather than two.
var paddedMarkerPattern = regexp.MustCompile(`[ \t]*` + markerPattern.String() + `[ \t]*`)

func stripMarkers(s string) string {
	s = summaryPattern.ReplaceAllString(s, "")
	s = detailsPattern.ReplaceAllString(s, "")
	return paddedMarkerPattern.ReplaceAllStringFunc(s, func(m string) string {
		first, last := m[0], m[len(m)-1]
		if first == ' ' || first == '\t' || last == ' ' || last == '\t' {
			return " "
		}
		return ""
	})
}
