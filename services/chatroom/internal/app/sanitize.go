package app

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxTitleLen   = 80
	maxNameLen    = 24
	maxMessageLen = 2000
	maxMemoLen    = 2000
)

var (
	labelPolicy  = bluemonday.StrictPolicy()
	unsafeInName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// plainLabel cleans a display name or room title: markup is stripped and
// entities are decoded once.
func plainLabel(s string, max int) string {
	s = html.UnescapeString(labelPolicy.Sanitize(s))
	return clip(strings.TrimSpace(stripControl(s, false)), max)
}

// bodyText keeps message and memo text as typed, minus control characters
// other than newlines and tabs.
func bodyText(s string, max int) string {
	return clip(strings.TrimSpace(stripControl(s, true)), max)
}

func stripControl(s string, keepLines bool) string {
	return strings.Map(func(r rune) rune {
		if keepLines && (r == '\n' || r == '\t') {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func clip(s string, max int) string {
	if r := []rune(s); len(r) > max {
		s = strings.TrimSpace(string(r[:max]))
	}
	return s
}

// exportFilename turns a room title into a safe file name.
func exportFilename(title string) string {
	name := strings.Trim(unsafeInName.ReplaceAllString(title, "_"), "_")
	if name == "" {
		name = "room"
	}
	return name + ".json"
}
