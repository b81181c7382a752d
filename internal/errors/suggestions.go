package errors

import (
	"fmt"
	"strings"
)

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
}

// BindSuggestions generates suggestions for a listener that could not be bound
func BindSuggestions(err error, port int) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{}
	if err == nil {
		return suggestions
	}

	errStr := err.Error()

	if IsAddrInUse(err) {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Port already in use",
			Description: fmt.Sprintf("Port %d is already being used by another process", port),
			Command:     fmt.Sprintf("lsof -i :%d", port),
		})

		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Pick the next free port automatically",
			Description: "Let folio increment the port until one is free",
			Command:     "folio serve --port-strategy increment",
		})
	}

	if strings.Contains(errStr, "permission denied") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Permission denied",
			Description: "You don't have permission to bind to this port",
		})

		if port < 1024 {
			suggestions = append(suggestions, ErrorSuggestion{
				Title:       "Use unprivileged port",
				Description: "Ports below 1024 require root privileges",
				Command:     "folio serve --port 3000",
			})
		}
	}

	if strings.Contains(errStr, "no such host") || strings.Contains(errStr, "cannot assign requested address") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Invalid host",
			Description: "The configured host is not a local address",
			Command:     "folio serve --host 127.0.0.1",
		})
	}

	return suggestions
}

// FormatSuggestions renders suggestions for terminal output.
func FormatSuggestions(suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Suggestions:\n")
	for _, s := range suggestions {
		fmt.Fprintf(&b, "  • %s: %s\n", s.Title, s.Description)
		if s.Command != "" {
			fmt.Fprintf(&b, "    $ %s\n", s.Command)
		}
	}

	return b.String()
}
