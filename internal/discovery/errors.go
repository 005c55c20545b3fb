package discovery

import "strings"

// XMLParseError aggregates every parser diagnostic for a rejected document.
type XMLParseError struct {
	Messages []string
}

func (e *XMLParseError) Error() string {
	return "Failed to parse XML content: " + strings.Join(e.Messages, "; ")
}
