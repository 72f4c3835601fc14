// Package setup turns pasted cloud configuration text into verified credentials.
package setup

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
	"roomchat/pkg/domain"
)

// ErrFormat is returned when the text is neither a tolerant object literal nor JSON.
var ErrFormat = errors.New("configuration format not recognised: paste the config object, e.g. { apiKey: \"...\", projectId: \"...\" }")

var assignPrefix = regexp.MustCompile(`^(?:export\s+)?(?:(?:const|let|var)\s+)?[A-Za-z_$][\w$.]*\s*=\s*`)

// Parse extracts credentials from text. It first accepts an object literal as
// written in client code (optional "const cfg =" prefix and trailing ";",
// comments, unquoted or single-quoted keys, trailing commas) and falls back to
// strict JSON. The text is only ever decoded as data.
func Parse(text string) (domain.Credentials, error) {
	if creds, err := parseLiteral(text); err == nil {
		return creds, nil
	}
	var creds domain.Credentials
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &creds); err != nil {
		return domain.Credentials{}, ErrFormat
	}
	return trim(creds), nil
}

func parseLiteral(text string) (domain.Credentials, error) {
	body := strings.TrimSpace(stripComments(text))
	body = assignPrefix.ReplaceAllString(body, "")
	body = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(body), ";"))
	if !strings.HasPrefix(body, "{") || !strings.HasSuffix(body, "}") {
		return domain.Credentials{}, ErrFormat
	}
	// With keys quoted and trailing commas gone, the literal is a YAML flow
	// mapping; YAML also takes care of single-quoted strings.
	body = quoteKeys(body)

	var fields map[string]any
	if err := yaml.Unmarshal([]byte(body), &fields); err != nil || len(fields) == 0 {
		return domain.Credentials{}, ErrFormat
	}
	var creds domain.Credentials
	if err := yaml.Unmarshal([]byte(body), &creds); err != nil {
		return domain.Credentials{}, ErrFormat
	}
	return trim(creds), nil
}

// scanQuoted copies the string literal starting at runes[i] and returns the
// index of its closing quote.
func scanQuoted(b *strings.Builder, runes []rune, i int) int {
	quote := runes[i]
	b.WriteRune(quote)
	for i++; i < len(runes); i++ {
		c := runes[i]
		b.WriteRune(c)
		if c == '\\' && i+1 < len(runes) {
			i++
			b.WriteRune(runes[i])
			continue
		}
		if c == quote {
			return i
		}
	}
	return i
}

// stripComments removes // and /* */ comments outside string literals.
func stripComments(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '"' || c == '\'':
			i = scanQuoted(&b, runes, i)
		case c == '/' && i+1 < len(runes) && runes[i+1] == '/':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			b.WriteRune('\n')
		case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
			b.WriteRune(' ')
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// quoteKeys double-quotes bare identifier keys and drops trailing commas.
func quoteKeys(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 16)
	runes := []rune(text)
	last := rune(0) // previous significant rune outside strings
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '"' || c == '\'':
			i = scanQuoted(&b, runes, i)
			last = c
		case c == ',' && nextSignificant(runes, i+1) == '}' || c == ',' && nextSignificant(runes, i+1) == ']':
			// trailing comma
		case isIdentStart(c) && (last == '{' || last == ','):
			j := i
			for j < len(runes) && isIdentPart(runes[j]) {
				j++
			}
			ident := string(runes[i:j])
			if nextSignificant(runes, j) == ':' {
				b.WriteString(`"` + ident + `"`)
			} else {
				b.WriteString(ident)
			}
			i = j - 1
			last = 'a'
		default:
			b.WriteRune(c)
			if !unicode.IsSpace(c) {
				last = c
			}
		}
	}
	return b.String()
}

func nextSignificant(runes []rune, i int) rune {
	for ; i < len(runes); i++ {
		if !unicode.IsSpace(runes[i]) {
			return runes[i]
		}
	}
	return 0
}

func isIdentStart(c rune) bool {
	return c == '_' || c == '$' || unicode.IsLetter(c)
}

func isIdentPart(c rune) bool {
	return isIdentStart(c) || unicode.IsDigit(c)
}

func trim(c domain.Credentials) domain.Credentials {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.AuthDomain = strings.TrimSpace(c.AuthDomain)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.ProjectID = strings.TrimSpace(c.ProjectID)
	c.StorageBucket = strings.TrimSpace(c.StorageBucket)
	c.MessagingSenderID = strings.TrimSpace(c.MessagingSenderID)
	c.AppID = strings.TrimSpace(c.AppID)
	return c
}
