package triage

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Cluster is a known pattern of co-occurring symptoms.
type Cluster struct {
	Name     string
	Core     []string
	Related  []string
	Severity string
}

// Clusters is the fixed symptom-cluster table, in evaluation order.
var Clusters = []Cluster{
	{
		Name:     "migraine",
		Core:     []string{"headache", "nausea", "sensitivity to light", "vomiting"},
		Related:  []string{"dizziness", "visual disturbances", "sensitivity to sound", "neck pain"},
		Severity: "moderate to high",
	},
	{
		Name:     "flu",
		Core:     []string{"fever", "body aches", "fatigue", "cough"},
		Related:  []string{"sore throat", "runny nose", "headache", "chills"},
		Severity: "moderate",
	},
	{
		Name:     "heart_attack",
		Core:     []string{"chest pain", "shortness of breath", "arm pain"},
		Related:  []string{"sweating", "nausea", "dizziness", "jaw pain"},
		Severity: "critical",
	},
	{
		Name:     "appendicitis",
		Core:     []string{"abdominal pain", "nausea", "fever"},
		Related:  []string{"vomiting", "loss of appetite", "constipation"},
		Severity: "high",
	},
	{
		Name:     "anxiety",
		Core:     []string{"rapid heartbeat", "shortness of breath", "sweating"},
		Related:  []string{"trembling", "dizziness", "chest tightness", "fear"},
		Severity: "low to moderate",
	},
}

// ClusterMatch is one scored cluster.
type ClusterMatch struct {
	Condition       string  `json:"condition"`
	CoreMatches     int     `json:"core_matches"`
	RelatedMatches  int     `json:"related_matches"`
	MatchPercentage float64 `json:"match_percentage"`
	Severity        string  `json:"severity"`
	Confidence      string  `json:"confidence"`
}

// CorrelationReport summarises how a set of symptoms lines up with the
// known clusters.
type CorrelationReport struct {
	ClusterMatches      []ClusterMatch `json:"cluster_matches"`
	CorrelationStrength string         `json:"correlation_strength"`
	SymptomCount        int            `json:"symptom_count"`
	AnalysisSummary     string         `json:"analysis_summary"`
}

var symptomSeparators = strings.NewReplacer(
	" , ", "|", ", ", "|", " and ", "|", " & ", "|", " ; ", "|", "; ", "|", " also ", "|", " plus ", "|",
)

// SplitSymptoms breaks free text into symptom phrases on common separators.
// Text without separators is returned as a single phrase.
func SplitSymptoms(text string) []string {
	var out []string
	for _, part := range strings.Split(symptomSeparators.Replace(text), "|") {
		if p := strings.TrimSpace(strings.Trim(strings.TrimSpace(part), ",;")); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 && strings.TrimSpace(text) != "" {
		out = []string{strings.TrimSpace(text)}
	}
	return out
}

// Correlate scores symptoms against the cluster table and keeps the top
// clusters (top <= 0 means 3).
func Correlate(symptoms []string, top int) CorrelationReport {
	if top <= 0 {
		top = 3
	}
	normalized := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			normalized = append(normalized, s)
		}
	}

	var matches []ClusterMatch
	for _, c := range Clusters {
		core := countOverlap(normalized, c.Core)
		if core == 0 {
			continue
		}
		pct := round1(float64(core) / float64(len(c.Core)) * 100)
		matches = append(matches, ClusterMatch{
			Condition:       titleCase(c.Name),
			CoreMatches:     core,
			RelatedMatches:  countOverlap(normalized, c.Related),
			MatchPercentage: pct,
			Severity:        c.Severity,
			Confidence:      confidenceFor(pct),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchPercentage > matches[j].MatchPercentage
	})

	report := CorrelationReport{
		CorrelationStrength: strengthFor(matches),
		SymptomCount:        len(symptoms),
		AnalysisSummary:     summarizeCorrelation(len(symptoms), matches),
	}
	if len(matches) > top {
		matches = matches[:top]
	}
	report.ClusterMatches = matches
	return report
}

// countOverlap counts symptoms that contain, or are contained in, any of
// the reference phrases.
func countOverlap(symptoms, reference []string) int {
	n := 0
	for _, s := range symptoms {
		for _, ref := range reference {
			if strings.Contains(s, ref) || strings.Contains(ref, s) {
				n++
				break
			}
		}
	}
	return n
}

func confidenceFor(pct float64) string {
	switch {
	case pct >= 75:
		return "high"
	case pct >= 50:
		return "medium"
	default:
		return "low"
	}
}

func strengthFor(matches []ClusterMatch) string {
	if len(matches) == 0 {
		return "weak"
	}
	switch pct := matches[0].MatchPercentage; {
	case pct >= 75:
		return "strong"
	case pct >= 50:
		return "moderate"
	case pct >= 25:
		return "weak"
	default:
		return "minimal"
	}
}

func summarizeCorrelation(count int, matches []ClusterMatch) string {
	if len(matches) == 0 {
		return fmt.Sprintf("Your %d symptom(s) don't match any specific pattern. A medical evaluation is recommended.", count)
	}
	m := matches[0]
	switch {
	case m.MatchPercentage >= 75:
		return fmt.Sprintf("Your symptoms strongly suggest %s (%.1f%% match). %d core symptoms align.", m.Condition, m.MatchPercentage, m.CoreMatches)
	case m.MatchPercentage >= 50:
		return fmt.Sprintf("Your symptoms moderately match %s (%.1f%% match). Consider medical evaluation.", m.Condition, m.MatchPercentage)
	default:
		return fmt.Sprintf("Your symptoms partially match %s, but further assessment is needed.", m.Condition)
	}
}

func titleCase(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
