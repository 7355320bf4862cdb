package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// AgentReply is the parsed form of a raw model response: the user-facing
// text plus whatever structured facts the model emitted. Facts is nil when
// no valid JSON could be recovered.
type AgentReply struct {
	Text  string
	Facts map[string]any
}

// Well-known keys in the extracted fact map.
const (
	FactMessage    = "message"
	FactClientName = "client_name"
	FactPhone      = "phone"
	FactStatus     = "status"
	FactHotLead    = "is_hot_lead"
	FactConfidence = "confidence"
	FactReadiness  = "readiness_score"
)

var (
	markerPattern     = regexp.MustCompile(`(?s)---JSON---(.*?)(?:$|---)`)
	codeBlockPattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	rawBracesPattern  = regexp.MustCompile(`(?s)(\{.*\})`)
	fenceEdgePattern  = regexp.MustCompile("^```(?:json)?|```$")
	trailingCommaObj  = regexp.MustCompile(`,\s*\}`)
	trailingCommaArr  = regexp.MustCompile(`,\s*\]`)
	markerTailPattern = regexp.MustCompile(`(?s)---JSON---.*`)
	codeBlocksPattern = regexp.MustCompile("(?s)```(?:json)?.*?```")
)

// ParseAgentReply extracts the user-facing text and structured facts from a
// raw model response.
//
// Text selection priority: the "message" key of the recovered JSON; else the
// raw text with any JSON region stripped; else the raw text verbatim. The
// result is never empty for non-empty input.
func ParseAgentReply(raw string) AgentReply {
	facts := ExtractFacts(raw)

	if msg, ok := facts[FactMessage]; ok {
		if s, ok := msg.(string); ok && strings.TrimSpace(s) != "" {
			return AgentReply{Text: s, Facts: facts}
		}
	}

	text := stripJSONRegions(raw)
	if strings.TrimSpace(text) == "" {
		text = raw
	}

	return AgentReply{Text: text, Facts: facts}
}

// ExtractFacts recovers a JSON object from raw model output. It tries, in
// order: a ---JSON--- marker region, a fenced code block, the outermost
// brace span. Trailing commas before } and ] are repaired before parsing.
// Returns nil when no valid object is found.
func ExtractFacts(raw string) map[string]any {
	var candidate string

	if m := markerPattern.FindStringSubmatch(raw); m != nil {
		candidate = strings.TrimSpace(m[1])
	}
	if candidate == "" || !strings.Contains(candidate, "{") {
		if m := codeBlockPattern.FindStringSubmatch(raw); m != nil {
			candidate = strings.TrimSpace(m[1])
		}
	}
	if candidate == "" || !strings.Contains(candidate, "{") {
		if m := rawBracesPattern.FindStringSubmatch(raw); m != nil {
			candidate = strings.TrimSpace(m[1])
		}
	}
	if candidate == "" {
		return nil
	}

	candidate = fenceEdgePattern.ReplaceAllString(candidate, "")
	candidate = trailingCommaObj.ReplaceAllString(candidate, "}")
	candidate = trailingCommaArr.ReplaceAllString(candidate, "]")

	// Keep only the outermost object to drop any lead-in text.
	first := strings.Index(candidate, "{")
	last := strings.LastIndex(candidate, "}")
	if first == -1 || last == -1 || last < first {
		return nil
	}
	candidate = candidate[first : last+1]

	var facts map[string]any
	if err := json.Unmarshal([]byte(candidate), &facts); err != nil {
		return nil
	}

	return facts
}

// ShouldHandoff decides whether the extracted facts warrant handing the
// conversation to a human: a hot lead at or above hotThreshold confidence,
// or confidence at or above phoneThreshold with a phone captured.
func ShouldHandoff(facts map[string]any, hotThreshold, phoneThreshold int) bool {
	if facts == nil {
		return false
	}

	isHot, _ := facts[FactHotLead].(bool)
	confidence := factInt(facts, FactConfidence)
	phone, _ := facts[FactPhone].(string)

	if isHot && confidence >= hotThreshold {
		return true
	}
	if confidence >= phoneThreshold && phone != "" {
		return true
	}

	return false
}

// stripJSONRegions removes marker regions and fenced code blocks. When the
// remainder is itself one valid JSON object, it is dropped too so callers
// fall back to the message key or the raw text.
func stripJSONRegions(raw string) string {
	clean := markerTailPattern.ReplaceAllString(raw, "")
	clean = codeBlocksPattern.ReplaceAllString(clean, "")
	clean = strings.TrimSpace(clean)

	if strings.HasPrefix(clean, "{") && strings.HasSuffix(clean, "}") {
		if json.Valid([]byte(clean)) {
			return ""
		}
	}

	return clean
}

// factInt reads a numeric fact that may arrive as a JSON number or a
// numeric string.
func factInt(facts map[string]any, key string) int {
	switch v := facts[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n := 0
		for _, r := range v {
			if r < '0' || r > '9' {
				return 0
			}
			n = n*10 + int(r-'0')
		}
		return n
	}
	return 0
}
