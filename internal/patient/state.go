package patient

import (
	"strings"
	"time"
)

// Refusal sentinels recorded as denials when the patient ignores a direct
// question about one of the singular fields.
const (
	RefusedDuration    = "Refused Duration"
	RefusedAge         = "Refused Age"
	RefusedMedications = "Refused Medications"
)

// FactDelta is what a single turn newly stated or implied.
type FactDelta struct {
	Confirmed        []string `json:"confirmed_symptoms"`
	Denied           []string `json:"denied_symptoms"`
	Unsure           []string `json:"unsure_aspects"`
	Duration         string   `json:"duration,omitempty"`
	MedicationsTaken string   `json:"medications_taken,omitempty"`
}

// IsEmpty reports whether the delta carries no facts at all.
func (d FactDelta) IsEmpty() bool {
	return len(d.Confirmed) == 0 && len(d.Denied) == 0 && len(d.Unsure) == 0 &&
		strings.TrimSpace(d.Duration) == "" && strings.TrimSpace(d.MedicationsTaken) == ""
}

// Session is the cumulative patient state for one conversation.
type Session struct {
	ID               string
	Confirmed        *OrderedSet
	Denied           *OrderedSet
	Unsure           *OrderedSet
	Duration         string
	MedicationsTaken string
	CreatedAt        time.Time
	LastUpdated      time.Time
}

// NewSession returns an empty session stamped with now.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:          id,
		Confirmed:   NewOrderedSet(),
		Denied:      NewOrderedSet(),
		Unsure:      NewOrderedSet(),
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// Apply merges delta into s. Confirmations and denials evict the same
// symptom from the other two sets; unsure entries only ever add.
// Singular fields are last-write-wins when the delta value is non-empty.
func (s *Session) Apply(delta FactDelta, now time.Time) {
	for _, raw := range delta.Confirmed {
		sym := Normalize(raw)
		if sym == "" {
			continue
		}
		s.Confirmed.Add(sym)
		s.Denied.Remove(sym)
		s.Unsure.Remove(sym)
	}
	for _, raw := range delta.Denied {
		sym := Normalize(raw)
		if sym == "" {
			continue
		}
		s.Denied.Add(sym)
		s.Confirmed.Remove(sym)
		s.Unsure.Remove(sym)
	}
	for _, raw := range delta.Unsure {
		if sym := Normalize(raw); sym != "" {
			s.Unsure.Add(sym)
		}
	}
	if v := strings.TrimSpace(delta.Duration); v != "" {
		s.Duration = v
	}
	if v := strings.TrimSpace(delta.MedicationsTaken); v != "" {
		s.MedicationsTaken = v
	}
	s.LastUpdated = now
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Confirmed = s.Confirmed.Clone()
	cp.Denied = s.Denied.Clone()
	cp.Unsure = s.Unsure.Clone()
	return &cp
}

// Snapshot is the plain, ordered view of a session used for prompting and
// serialization. Lists keep insertion order.
type Snapshot struct {
	SessionID        string    `json:"session_id"`
	Confirmed        []string  `json:"confirmed_symptoms"`
	Denied           []string  `json:"denied_symptoms"`
	Unsure           []string  `json:"unsure_aspects"`
	Duration         string    `json:"duration,omitempty"`
	MedicationsTaken string    `json:"medications_taken,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Snapshot converts the session into its plain view.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		SessionID:        s.ID,
		Confirmed:        s.Confirmed.Items(),
		Denied:           s.Denied.Items(),
		Unsure:           s.Unsure.Items(),
		Duration:         s.Duration,
		MedicationsTaken: s.MedicationsTaken,
		CreatedAt:        s.CreatedAt,
		LastUpdated:      s.LastUpdated,
	}
}

// FromSnapshot rebuilds a session from its plain view.
func FromSnapshot(snap Snapshot) *Session {
	s := NewSession(snap.SessionID, snap.CreatedAt)
	for _, v := range snap.Confirmed {
		s.Confirmed.Add(v)
	}
	for _, v := range snap.Denied {
		s.Denied.Add(v)
	}
	for _, v := range snap.Unsure {
		s.Unsure.Add(v)
	}
	s.Duration = snap.Duration
	s.MedicationsTaken = snap.MedicationsTaken
	s.LastUpdated = snap.LastUpdated
	return s
}

// FactBlock renders the snapshot as the grounding text used in prompts.
func (s Snapshot) FactBlock() string {
	var b strings.Builder
	b.WriteString("CONFIRMED SYMPTOMS: ")
	b.WriteString(joinOrNone(s.Confirmed))
	b.WriteString("\nDENIED SYMPTOMS: ")
	b.WriteString(joinOrNone(s.Denied))
	b.WriteString("\nUNSURE / UNKNOWN: ")
	b.WriteString(joinOrNone(s.Unsure))
	b.WriteString("\nDURATION: ")
	b.WriteString(valueOrUnknown(s.Duration))
	b.WriteString("\nMEDICATIONS TAKEN: ")
	b.WriteString(valueOrUnknown(s.MedicationsTaken))
	return b.String()
}

// Normalize lowercases and collapses whitespace so that set membership is
// insensitive to casing and spacing.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func valueOrUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "unknown"
	}
	return v
}
