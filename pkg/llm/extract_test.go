package llm

import (
	"testing"
)

func TestExtractFactsFromFencedBlockWithTrailingComma(t *testing.T) {
	raw := "Sure, here you go:\n```json\n{\"message\": \"Hello!\", \"confidence\": 40,}\n```"

	facts := ExtractFacts(raw)
	if facts == nil {
		t.Fatal("expected facts, got nil")
	}
	if facts[FactMessage] != "Hello!" {
		t.Errorf("message = %v, want Hello!", facts[FactMessage])
	}
	if facts[FactConfidence] != float64(40) {
		t.Errorf("confidence = %v, want 40", facts[FactConfidence])
	}
}

func TestExtractFactsMarkerRegion(t *testing.T) {
	raw := "Great, noted.\n---JSON---\n{\"message\": \"ok\", \"is_hot_lead\": true}"

	facts := ExtractFacts(raw)
	if facts == nil {
		t.Fatal("expected facts, got nil")
	}
	if facts[FactHotLead] != true {
		t.Errorf("is_hot_lead = %v, want true", facts[FactHotLead])
	}
}

func TestExtractFactsRawBraces(t *testing.T) {
	raw := `Some preamble {"message": "hi", "phone": "+79991234567"} trailing`

	facts := ExtractFacts(raw)
	if facts == nil {
		t.Fatal("expected facts, got nil")
	}
	if facts[FactPhone] != "+79991234567" {
		t.Errorf("phone = %v", facts[FactPhone])
	}
}

func TestExtractFactsTolerantOfEmoji(t *testing.T) {
	raw := "```json\n{\"message\": \"Отлично! 🎉 Когда вам удобно?\"}\n```"

	facts := ExtractFacts(raw)
	if facts == nil {
		t.Fatal("expected facts, got nil")
	}
	if facts[FactMessage] != "Отлично! 🎉 Когда вам удобно?" {
		t.Errorf("message = %v", facts[FactMessage])
	}
}

func TestExtractFactsNoJSON(t *testing.T) {
	if facts := ExtractFacts("just a plain reply with no structure"); facts != nil {
		t.Errorf("expected nil facts, got %v", facts)
	}
}

func TestParseAgentReplyPrefersMessageKey(t *testing.T) {
	raw := "lead-in text\n```json\n{\"message\": \"The one to show\"}\n```"

	reply := ParseAgentReply(raw)
	if reply.Text != "The one to show" {
		t.Errorf("text = %q, want message key value", reply.Text)
	}
}

func TestParseAgentReplyStripsJSONWhenNoMessageKey(t *testing.T) {
	raw := "Visible part.\n```json\n{\"confidence\": 10}\n```"

	reply := ParseAgentReply(raw)
	if reply.Text != "Visible part." {
		t.Errorf("text = %q, want stripped visible part", reply.Text)
	}
	if reply.Facts == nil {
		t.Error("expected facts alongside stripped text")
	}
}

func TestParseAgentReplyNeverEmpty(t *testing.T) {
	// Invalid JSON object fills the whole response: stripping would leave
	// nothing, so the raw text comes back verbatim.
	raw := `{"broken": `

	reply := ParseAgentReply(raw)
	if reply.Text == "" {
		t.Error("reply text must never be empty for non-empty input")
	}
}

func TestParseAgentReplyBareJSONUsesMessage(t *testing.T) {
	raw := `{"message": "只有 JSON", "confidence": 55}`

	reply := ParseAgentReply(raw)
	if reply.Text != "只有 JSON" {
		t.Errorf("text = %q", reply.Text)
	}
}

func TestShouldHandoff(t *testing.T) {
	tests := []struct {
		name  string
		facts map[string]any
		want  bool
	}{
		{"hot and confident", map[string]any{"is_hot_lead": true, "confidence": float64(75)}, true},
		{"hot but unsure", map[string]any{"is_hot_lead": true, "confidence": float64(50)}, false},
		{"very confident with phone", map[string]any{"confidence": float64(90), "phone": "123"}, true},
		{"very confident without phone", map[string]any{"confidence": float64(90)}, false},
		{"empty facts", map[string]any{}, false},
		{"nil facts", nil, false},
		{"boundary hot", map[string]any{"is_hot_lead": true, "confidence": float64(70)}, true},
		{"boundary phone", map[string]any{"confidence": float64(85), "phone": "+7"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldHandoff(tt.facts, 70, 85); got != tt.want {
				t.Errorf("ShouldHandoff(%v) = %v, want %v", tt.facts, got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg       string
		wantType  ErrorType
		retryable bool
	}{
		{"status code 401 unauthorized", ErrorTypeAuth, false},
		{"model gpt-x does not exist", ErrorTypeModel, false},
		{"status 429 rate limit exceeded", ErrorTypeRateLimit, true},
		{"dial tcp: connection refused", ErrorTypeEndpoint, true},
		{"status code 503", ErrorTypeEndpoint, true},
		{"something odd", ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		err := ClassifyError(errString(tt.msg))
		if err.Type != tt.wantType {
			t.Errorf("ClassifyError(%q).Type = %v, want %v", tt.msg, err.Type, tt.wantType)
		}
		if err.Retryable != tt.retryable {
			t.Errorf("ClassifyError(%q).Retryable = %v, want %v", tt.msg, err.Retryable, tt.retryable)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
