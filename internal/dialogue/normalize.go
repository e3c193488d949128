// Package dialogue turns raw model output into speaker::text lines.
package dialogue

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lexiqai/story-pipeline/internal/story"
)

var (
	assistantLine = regexp.MustCompile(`(?i)^assistant\s*::`)
	starredLine   = regexp.MustCompile(`^\*.*\*$`)
	bracketedLine = regexp.MustCompile(`^\(.*\)$`)
	dialogueLine  = regexp.MustCompile(`^([\p{L}\p{N}_\s]+)::(.*)$`)
)

// Normalize cleans generated lines into canonical "speaker::text" form.
// Role markers, stage directions and anything that is not a dialogue turn are
// dropped. It returns story.ErrMalformedGeneration when nothing survives.
func Normalize(raw []string) ([]string, error) {
	var out []string
	for _, chunk := range raw {
		// A single raw entry may itself hold several lines
		for _, line := range strings.Split(chunk, "\n") {
			parsed, ok := normalizeLine(line)
			if ok {
				out = append(out, parsed.String())
			}
		}
	}

	if len(out) == 0 {
		return nil, story.ErrMalformedGeneration
	}
	return out, nil
}

func normalizeLine(line string) (story.Line, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return story.Line{}, false
	}
	if !strings.Contains(line, story.Delimiter) {
		line = strings.Replace(line, ":", story.Delimiter, 1)
	}

	if assistantLine.MatchString(line) || starredLine.MatchString(line) || bracketedLine.MatchString(line) {
		return story.Line{}, false
	}

	m := dialogueLine.FindStringSubmatch(line)
	if m == nil {
		return story.Line{}, false
	}
	l := story.Line{Speaker: strings.TrimSpace(m[1]), Text: strings.TrimSpace(m[2])}
	if l.Speaker == "" || l.Text == "" {
		return story.Line{}, false
	}
	return l, true
}

// ParseLine splits a normalized line into speaker and text
func ParseLine(line string) (story.Line, error) {
	speaker, text, ok := strings.Cut(line, story.Delimiter)
	if !ok {
		return story.Line{}, fmt.Errorf("line %q has no %q delimiter", line, story.Delimiter)
	}
	return story.Line{Speaker: strings.TrimSpace(speaker), Text: strings.TrimSpace(text)}, nil
}

// ParseLines parses every normalized line, failing on the first malformed one
func ParseLines(lines []string) ([]story.Line, error) {
	parsed := make([]story.Line, len(lines))
	for i, line := range lines {
		l, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", story.ErrMalformedGeneration, err)
		}
		parsed[i] = l
	}
	return parsed, nil
}
