package chain

import (
	"encoding/json"
	"strings"
	"unicode"
)

// Parser turns raw model text into a JSON document.
type Parser struct {
	// CollapseNewlines replaces embedded line breaks with spaces before
	// parsing. Disable it when responses carry preformatted text.
	CollapseNewlines bool
}

// NewParser returns a parser with newline collapsing enabled.
func NewParser() *Parser {
	return &Parser{CollapseNewlines: true}
}

// Clean strips code fences and surrounding whitespace from model text.
func (p *Parser) Clean(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimSuffix(text, "```")
	text = stripOpeningFence(strings.TrimSpace(text))
	text = strings.TrimSpace(text)

	if p.CollapseNewlines {
		text = strings.ReplaceAll(text, "\r\n", " ")
		text = strings.ReplaceAll(text, "\n", " ")
	}
	return text
}

// stripOpeningFence drops a leading ``` and its language tag, in any case.
// A word is only treated as a tag when whitespace or the document follows it,
// so a bare fenced literal such as true survives.
func stripOpeningFence(text string) string {
	rest, ok := strings.CutPrefix(text, "```")
	if !ok {
		return text
	}
	i := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsLetter(r) })
	if i <= 0 {
		return rest
	}
	switch rest[i] {
	case ' ', '\t', '\r', '\n', '{', '[':
		return rest[i:]
	}
	return rest
}

// Parse cleans raw and checks it is a single JSON value. Failures come back
// as *ParseError holding the original text.
func (p *Parser) Parse(raw string) (json.RawMessage, error) {
	cleaned := p.Clean(raw)

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	return json.RawMessage(cleaned), nil
}
