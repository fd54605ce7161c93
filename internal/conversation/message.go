// Package conversation holds the ordered message log of a chat session and
// the idle/sending state machine that gates submissions.
package conversation

import "fmt"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TimeFormat is the display format of Message.Time.
const TimeFormat = "15:04"

// WelcomeText seeds every new conversation.
const WelcomeText = "Welcome to the SOC Knowledge Assistant. I'm here to help you with security operations and incident response procedures.\n\n" +
	"You can ask me questions like:\n" +
	"• How do we contain a phishing attack?\n" +
	"• What are the remediation steps for ransomware?\n" +
	"• Show me the incident response procedure for DDoS attacks"

// Message is one conversation turn.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
	Time string `json:"time"`
}

// Reference is a snippet the backend reported using for the last answer.
type Reference struct {
	Label   string  `json:"label"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// referenceScore is reported for every reference; the backend does not
// return relevance scores.
const referenceScore = 1.0

// MapReferences labels contexts by position: "Context 1", "Context 2", ...
func MapReferences(contexts []string) []Reference {
	refs := make([]Reference, len(contexts))
	for i, c := range contexts {
		refs[i] = Reference{
			Label:   fmt.Sprintf("Context %d", i+1),
			Content: c,
			Score:   referenceScore,
		}
	}
	return refs
}
