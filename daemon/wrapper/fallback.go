package wrapper

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	mcpServerPrefixRe = regexp.MustCompile(`(?i)^mcp[-_]server[-_](.+)$`)
	serverMCPSuffixRe = regexp.MustCompile(`(?i)^(.+?)[-_]mcp[-_]server$`)
	mcpPrefixRe       = regexp.MustCompile(`(?i)^mcp[-_](.+)$`)
	mcpSuffixRe       = regexp.MustCompile(`(?i)^(.+?)[-_]mcp$`)
)

// DetectServerFromCommand derives a best-effort {name, version="unknown"}
// from a wrapped command line when no protocol-derived serverInfo has been
// observed yet (spec §4.6: heuristic extraction from the wrapped command
// string). Grounded on the Python original's stdio_server_detector_fallback.
func DetectServerFromCommand(command []string) (name, version string, ok bool) {
	if len(command) == 0 {
		return "", "", false
	}

	exeName := filepath.Base(command[0])
	exeStem := strings.TrimSuffix(exeName, filepath.Ext(exeName))

	if isPythonInterpreter(exeName) {
		for i := 1; i < len(command); i++ {
			if command[i] != "-m" || i+1 >= len(command) {
				continue
			}
			module := command[i+1]
			if module == "mcphawk" && i+2 < len(command) && command[i+2] == "mcp" {
				return "MCPHawk Query Server", "unknown", true
			}
			if n, ok := extractServerName(module); ok {
				return n, "unknown", true
			}
		}
	}

	if n, ok := extractServerName(exeStem); ok {
		return n, "unknown", true
	}

	for _, arg := range command[1:] {
		if strings.HasSuffix(arg, ".py") {
			base := filepath.Base(arg)
			stem := strings.TrimSuffix(base, ".py")
			if n, ok := extractServerName(stem); ok {
				return n, "unknown", true
			}
		}
	}

	return "", "", false
}

func isPythonInterpreter(exeName string) bool {
	switch exeName {
	case "python", "python3", "python3.exe", "python.exe":
		return true
	default:
		return false
	}
}

// extractServerName applies the naming patterns from spec §4.6 in order:
// mcp-server-{name}, {name}-mcp-server, mcp-{name}, {name}-mcp, or any text
// merely containing "mcp".
func extractServerName(text string) (string, bool) {
	if text == "" {
		return "", false
	}

	if m := mcpServerPrefixRe.FindStringSubmatch(text); m != nil {
		return "MCP " + titleJoin(m[1]) + " Server", true
	}
	if m := serverMCPSuffixRe.FindStringSubmatch(text); m != nil {
		return titleJoin(m[1]) + " MCP Server", true
	}
	if m := mcpPrefixRe.FindStringSubmatch(text); m != nil {
		if strings.EqualFold(m[1], "server") {
			return "", false
		}
		return "MCP " + titleJoin(m[1]), true
	}
	if m := mcpSuffixRe.FindStringSubmatch(text); m != nil {
		return titleJoin(m[1]) + " MCP", true
	}
	if strings.Contains(strings.ToLower(text), "mcp") {
		var words []string
		for _, w := range splitWords(text) {
			if strings.EqualFold(w, "mcp") {
				words = append(words, "MCP")
			} else {
				words = append(words, capitalize(w))
			}
		}
		return strings.Join(words, " "), true
	}

	return "", false
}

func splitWords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == '-' || r == '_' })
	return fields
}

func titleJoin(text string) string {
	words := splitWords(text)
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(word string) string {
	if word == "" {
		return word
	}
	return strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
}

// MergeServerInfo prefers protocol-derived info over a command-line guess
// (spec §4.6: "Protocol-derived info always wins when it later arrives").
func MergeServerInfo(fallbackName, fallbackVersion, protocolName, protocolVersion string) (name, version string) {
	if protocolName != "" {
		return protocolName, protocolVersion
	}
	return fallbackName, fallbackVersion
}
