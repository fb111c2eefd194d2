// Package extract turns the latest patient utterance into a fact delta.
package extract

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/medtriage/internal/llm"
	"github.com/mohammad-safakhou/medtriage/internal/patient"
)

const systemPrompt = `You are a clinical fact extractor. Read the latest patient message in the context of the conversation and return ONLY what the patient newly stated in that message.

RULES:
1. Extract only values explicitly stated. Never infer beyond the text.
2. IMPLICIT NEGATION: if the previous assistant turn asked about several specific items and the patient answered only some of them, every item the patient did not address MUST go into "denied_symptoms".
3. REFUSALS: if the assistant asked for duration, age or medications and the patient declined or ignored it, add "Refused Duration", "Refused Age" or "Refused Medications" to "denied_symptoms".
4. Items the patient says they do not know go into "unsure_aspects", not "denied_symptoms".
5. Use short lowercase symptom names (for example "headache", "dizziness").

Respond with VALID JSON only:
{"confirmed_symptoms": [], "denied_symptoms": [], "unsure_aspects": [], "duration": "", "medications_taken": ""}`

// Extractor produces one FactDelta per turn.
type Extractor struct {
	llm    llm.Client
	logger *log.Logger
}

func New(client llm.Client, logger *log.Logger) *Extractor {
	if logger == nil {
		logger = log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags)
	}
	return &Extractor{llm: client, logger: logger}
}

// Extract never fails: on upstream or format errors it logs and returns an
// empty delta so the turn proceeds without new facts.
func (e *Extractor) Extract(ctx context.Context, message string, history []llm.Message) patient.FactDelta {
	var delta patient.FactDelta
	err := llm.CompleteJSON(ctx, e.llm, llm.Request{
		Task:        llm.TaskExtraction,
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: renderInput(message, history)}},
		Temperature: 0,
	}, &delta)
	if err != nil {
		e.logger.Printf("warn: fact extraction failed, continuing with empty delta: %v", err)
		return patient.FactDelta{}
	}
	question := LastAssistantTurn(history)
	if question == "" {
		return delta
	}
	return ApplyImplicitNegation(question, message, delta)
}

// LastAssistantTurn returns the content of the most recent assistant message.
func LastAssistantTurn(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" {
			return history[i].Content
		}
	}
	return ""
}

func renderInput(message string, history []llm.Message) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("CONVERSATION SO FAR:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(m.Role), m.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("LATEST PATIENT MESSAGE:\n")
	b.WriteString(message)
	return b.String()
}
