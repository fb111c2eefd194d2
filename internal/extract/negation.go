package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/mohammad-safakhou/medtriage/internal/patient"
)

type askKind int

const (
	askItem askKind = iota
	askDuration
	askAge
	askMedication
)

// Ask is one thing the assistant asked about.
type Ask struct {
	Kind askKind
	Text string
}

var (
	clauseSplit  = regexp.MustCompile(`(?i)\s*(?:[,;/]|\band\b|\bor\b)\s*`)
	sentenceEnd  = regexp.MustCompile(`[.!?\n]`)
	digits       = regexp.MustCompile(`\d`)
	leadingNoise = []string{
		"do you have", "do you", "have you had", "have you been", "have you", "are you having", "are you",
		"is there", "are there", "did you", "any other", "any", "also", "and", "or", "experiencing",
		"having", "feeling", "noticed", "a", "an", "some",
	}
	durationCues   = []string{"how long", "since when", "when did", "duration", "how many days"}
	ageCues        = []string{"how old", "your age", "date of birth"}
	openers        = map[string]bool{"how": true, "what": true, "where": true, "when": true, "which": true, "why": true, "who": true, "can": true, "could": true, "would": true, "please": true, "tell": true}
	medicationCues = []string{"medication", "medicine", "tablet", "taken anything", "took anything", "drug", "painkiller"}
	durationWords  = []string{"day", "week", "hour", "month", "year", "since", "yesterday", "morning", "night", "today", "minute"}
	ageWords       = []string{"year", "old", "age"}
	refusalWords   = []string{"no", "none", "nothing", "not", "never", "didn't", "haven't", "nope"}
	unsureMarkers  = []string{"don't know", "dont know", "not sure", "unsure", "no idea", "can't say", "cannot say"}
	affirmations   = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "yup": true, "ya": true, "sure": true, "correct": true, "right": true,
		"both": true, "all": true, "definitely": true, "absolutely": true, "indeed": true, "i": true, "do": true,
		"have": true, "of": true, "them": true, "am": true,
	}
	itemStopwords = map[string]bool{"your": true, "have": true, "with": true, "some": true, "feel": true, "been": true, "that": true, "this": true, "there": true}
)

// ParseQuestion breaks the question sentences of an assistant turn into the
// individual items it asked about.
func ParseQuestion(turn string) []Ask {
	var asks []Ask
	seen := map[string]bool{}
	for _, sentence := range questionSentences(turn) {
		for _, clause := range clauseSplit.Split(sentence, -1) {
			clause = stripNoise(clause)
			if clause == "" {
				continue
			}
			ask := Ask{Kind: classify(clause), Text: clause}
			key := strings.ToLower(clause)
			if ask.Kind != askItem {
				key = fmt.Sprintf("#%d", ask.Kind)
			} else if !isItem(clause) {
				continue
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			asks = append(asks, ask)
		}
	}
	return asks
}

// ApplyImplicitNegation adds refusal sentinels for ignored duration, age or
// medication questions. When the question asked about more than one thing,
// every item the reply left unaddressed is denied as well. A bare
// affirmative reply addresses every item.
func ApplyImplicitNegation(question, reply string, delta patient.FactDelta) patient.FactDelta {
	asks := ParseQuestion(question)
	if len(asks) == 0 {
		return delta
	}
	multi := len(asks) >= 2 && !bareAffirmative(reply)
	lowerReply := strings.ToLower(reply)
	words := wordSet(lowerReply)
	mentioned := append(append(append([]string{}, delta.Confirmed...), delta.Denied...), delta.Unsure...)

	var unaddressed []string
	addressedAny := false
	for _, a := range asks {
		switch a.Kind {
		case askDuration:
			if strings.TrimSpace(delta.Duration) == "" && !answersDuration(lowerReply) {
				delta.Denied = appendMissing(delta.Denied, patient.RefusedDuration)
			}
		case askAge:
			if !digits.MatchString(lowerReply) && !hasAny(words, ageWords) {
				delta.Denied = appendMissing(delta.Denied, patient.RefusedAge)
			}
		case askMedication:
			if strings.TrimSpace(delta.MedicationsTaken) == "" && !answersMedication(lowerReply, words) {
				delta.Denied = appendMissing(delta.Denied, patient.RefusedMedications)
			}
		default:
			if !multi {
				continue
			}
			if addressed(a.Text, lowerReply, mentioned) {
				addressedAny = true
				continue
			}
			unaddressed = append(unaddressed, a.Text)
		}
	}

	if len(unaddressed) == 0 {
		return delta
	}
	if !addressedAny && containsAny(lowerReply, unsureMarkers) {
		for _, item := range unaddressed {
			delta.Unsure = appendMissing(delta.Unsure, item)
		}
		return delta
	}
	for _, item := range unaddressed {
		delta.Denied = appendMissing(delta.Denied, item)
	}
	return delta
}

func questionSentences(turn string) []string {
	var out []string
	rest := turn
	for {
		idx := strings.IndexByte(rest, '?')
		if idx == -1 {
			break
		}
		head := rest[:idx]
		start := 0
		if locs := sentenceEnd.FindAllStringIndex(head, -1); len(locs) > 0 {
			start = locs[len(locs)-1][1]
		}
		out = append(out, strings.TrimSpace(head[start:]))
		rest = rest[idx+1:]
	}
	return out
}

func stripNoise(clause string) string {
	s := strings.TrimFunc(clause, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsPunct(r) })
	for changed := true; changed; {
		changed = false
		for _, p := range leadingNoise {
			if len(s) > len(p) && strings.EqualFold(s[:len(p)], p) && s[len(p)] == ' ' {
				s = strings.TrimSpace(s[len(p)+1:])
				changed = true
			} else if strings.EqualFold(s, p) {
				s = ""
				changed = true
			}
		}
	}
	return s
}

func classify(clause string) askKind {
	lower := strings.ToLower(clause)
	switch {
	case containsAny(lower, durationCues):
		return askDuration
	case containsAny(lower, medicationCues):
		return askMedication
	case containsAny(lower, ageCues) || wordSet(lower)["age"]:
		return askAge
	default:
		return askItem
	}
}

// isItem rejects open questions and long clauses; only short named items
// can be implicitly denied.
func isItem(clause string) bool {
	words := strings.Fields(strings.ToLower(clause))
	return len(words) > 0 && len(words) <= 5 && !openers[words[0]]
}

// bareAffirmative reports whether reply is nothing but agreement, such as
// "yes" or "yeah, both".
func bareAffirmative(reply string) bool {
	words := wordSet(strings.ToLower(reply))
	if len(words) == 0 {
		return false
	}
	for w := range words {
		if !affirmations[w] {
			return false
		}
	}
	return true
}

// addressed reports whether the reply or the extracted delta covers item.
// Extracted facts match on whole strings or on any shared stemmed word, so
// "pain in your chest" is covered by a confirmed "chest pain".
func addressed(item, lowerReply string, mentioned []string) bool {
	li := strings.ToLower(item)
	if strings.Contains(lowerReply, li) {
		return true
	}
	itemToks := significantTokens(li)
	for _, m := range mentioned {
		lm := strings.ToLower(strings.TrimSpace(m))
		if lm == "" {
			continue
		}
		if strings.Contains(lm, li) || strings.Contains(li, lm) {
			return true
		}
		for _, mt := range significantTokens(lm) {
			for _, it := range itemToks {
				if sameStem(it, mt) {
					return true
				}
			}
		}
	}
	for _, tok := range itemToks {
		if strings.Contains(lowerReply, stem(tok)) {
			return true
		}
	}
	return false
}

func significantTokens(s string) []string {
	var out []string
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if len(tok) >= 4 && !itemStopwords[tok] {
			out = append(out, tok)
		}
	}
	return out
}

// sameStem matches equal stems or a shared prefix of five letters, which
// pairs "nauseous" with "nausea" and "breathing" with "breath".
func sameStem(a, b string) bool {
	a, b = stem(a), stem(b)
	if a == b {
		return true
	}
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n >= 5
}

// stem trims common suffixes so "vomiting" matches "vomited".
func stem(tok string) string {
	for _, suf := range []string{"ing", "ed", "es", "s"} {
		if strings.HasSuffix(tok, suf) && len(tok)-len(suf) >= 4 {
			return tok[:len(tok)-len(suf)]
		}
	}
	return tok
}

func answersDuration(lowerReply string) bool {
	if digits.MatchString(lowerReply) {
		return true
	}
	for _, w := range durationWords {
		if strings.Contains(lowerReply, w) {
			return true
		}
	}
	return false
}

func answersMedication(lowerReply string, words map[string]bool) bool {
	return hasAny(words, refusalWords) || containsAny(lowerReply, medicationCues) ||
		containsAny(lowerReply, []string{"took", "taken", "taking", "paracetamol", "ibuprofen"})
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'')
	}) {
		out[w] = true
	}
	return out
}

func hasAny(words map[string]bool, list []string) bool {
	for _, w := range list {
		if words[w] {
			return true
		}
	}
	return false
}

func containsAny(s string, list []string) bool {
	for _, w := range list {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func appendMissing(list []string, v string) []string {
	for _, x := range list {
		if strings.EqualFold(strings.TrimSpace(x), v) {
			return list
		}
	}
	return append(list, v)
}
