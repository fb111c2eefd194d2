package dialogue

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/medtriage/internal/gaps"
	"github.com/mohammad-safakhou/medtriage/internal/patient"
	"github.com/mohammad-safakhou/medtriage/internal/retrieval"
	"github.com/mohammad-safakhou/medtriage/internal/triage"
)

const basePrompt = `You are a careful medical triage assistant talking to a patient. You write in %s.

GROUND RULES:
- Use only the PATIENT FACTS and the GUIDELINE CONTEXT below. Never invent medical advice.
- DIAGNOSTIC CONTEXT may be used to explain why a symptom can occur. It is never advice.
- Never state a drug name with a dose. If the guidelines mention medication, tell the patient to consult a doctor for medication.
- Keep the reply short, warm and plain.`

const gatheringPrompt = `
CURRENT STEP: GATHERING INFORMATION.
The following information is still missing:
%s
Ask the patient ONLY about these items, in one short message. Do not ask generic open questions. Do not give advice yet. Do not mention a summary.`

const concludingPrompt = `
CURRENT STEP: GIVING GUIDANCE.
All required information is available. Give home-care guidance using only the GUIDELINE CONTEXT.
- Every guideline claim must carry its inline page citation exactly as written, for example [Page 12].
- If a CRITICAL GOLDEN RULE is present, state it first.
- Do not ask further questions.
- End with this exact sentence: "%s"`

const noGuidancePrompt = `
CURRENT STEP: GIVING GUIDANCE.
The guidelines available to you do not cover this case. Say explicitly that the answer is not in the available guidelines and advise the patient to consult a doctor. Do not invent advice.
- End with this exact sentence: "%s"`

const nudgePrompt = `
The conversation is getting long. If the patient signals closure (for example "ok" or "thanks"), add a short footer asking them to let you know if they have no more symptoms.`

func systemPromptFor(state, language string, missing []gaps.Gap, res retrieval.Result, nudge bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, basePrompt, language)
	switch {
	case state == StateGathering:
		list := make([]string, len(missing))
		for i, g := range missing {
			list[i] = "- " + string(g)
		}
		fmt.Fprintf(&b, gatheringPrompt, strings.Join(list, "\n"))
	case res.HasGuidance():
		fmt.Fprintf(&b, concludingPrompt, ClosingSentence)
	default:
		fmt.Fprintf(&b, noGuidancePrompt, ClosingSentence)
	}
	if nudge {
		b.WriteString(nudgePrompt)
	}
	return b.String()
}

func userPromptFor(message string, snap patient.Snapshot, res retrieval.Result) string {
	var b strings.Builder
	b.WriteString("PATIENT FACTS:\n")
	b.WriteString(snap.FactBlock())
	if diag := res.DiagnosticContext(); diag != "" {
		b.WriteString("\n\nDIAGNOSTIC CONTEXT (explanation only):\n")
		b.WriteString(diag)
	}
	b.WriteString("\n\nGUIDELINE CONTEXT:\n")
	if guide := res.GuidelineContext(); guide != "" {
		b.WriteString(guide)
	} else {
		b.WriteString("(none found)")
	}
	b.WriteString("\n\nPATIENT MESSAGE:\n")
	b.WriteString(message)
	return b.String()
}

// finalize makes the prose agree with the turn's finality: the closing
// sentence is stripped from continuing turns and appended exactly once to
// final ones.
func finalize(answer string, final bool) string {
	answer = strings.TrimSpace(strings.ReplaceAll(answer, ClosingSentence, ""))
	if !final {
		return answer
	}
	if answer == "" {
		return ClosingSentence
	}
	return answer + "\n\n" + ClosingSentence
}

var dosagePattern = regexp.MustCompile(`(?i)\b\d+(?:[.,]\d+)?\s?(?:mg|mcg|µg|ml|iu|g)\b(?:\s*(?:every|per|/)\s*\d*\s*(?:hours?|h|days?))?`)

// redactDosages replaces literal dose amounts with a referral.
func redactDosages(answer string) string {
	return dosagePattern.ReplaceAllString(answer, "(consult a doctor for medication)")
}

func emergencyAnswer(rec *triage.EmergencyRecord) string {
	var b strings.Builder
	b.WriteString("EMERGENCY ALERT: ")
	if rec.Category != "" {
		fmt.Fprintf(&b, "your symptoms may indicate a %s emergency", strings.ToLower(rec.Category))
	} else {
		b.WriteString("your symptoms may indicate a medical emergency")
	}
	if rec.MatchedCondition != "" && !strings.EqualFold(rec.MatchedCondition, rec.Category) {
		fmt.Fprintf(&b, " (%s)", rec.MatchedCondition)
	}
	b.WriteString(". ")
	if action := strings.TrimSpace(rec.ActionRequired); action != "" {
		b.WriteString(strings.TrimSuffix(action, "."))
		b.WriteString(". ")
	}
	b.WriteString("Call your local emergency number or go to the nearest emergency department now.")
	return b.String()
}
