// Package canned answers a fixed set of frequently asked questions without
// contacting the upstream model.
package canned

import (
	"strings"

	"golang.org/x/text/cases"
)

// Entry is one question/answer pair. Question is stored normalized.
type Entry struct {
	Question string
	Answer   string
}

// Table is an immutable lookup table from normalized question to answer.
// It is safe for concurrent use.
type Table struct {
	answers map[string]string
}

// New builds a table from entries, normalizing every question. Later entries
// win over earlier ones that normalize to the same key.
func New(entries []Entry) *Table {
	t := &Table{answers: make(map[string]string, len(entries))}
	for _, e := range entries {
		t.answers[Normalize(e.Question)] = e.Answer
	}
	return t
}

// Default returns the table of medical FAQs shipped with the gateway.
func Default() *Table {
	return New(DefaultEntries())
}

// Lookup returns the canned answer for text, if any.
func (t *Table) Lookup(text string) (string, bool) {
	if t == nil {
		return "", false
	}
	answer, ok := t.answers[Normalize(text)]
	return answer, ok
}

// Len returns the number of distinct questions.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.answers)
}

// Entries returns the table contents in no particular order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, t.Len())
	if t == nil {
		return out
	}
	for q, a := range t.answers {
		out = append(out, Entry{Question: q, Answer: a})
	}
	return out
}

// Normalize trims surrounding whitespace and case-folds s.
// A cases.Caser is stateful, so one is built per call.
func Normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// DefaultEntries returns the built-in FAQ entries.
func DefaultEntries() []Entry {
	return []Entry{
		{
			Question: "quais são os sintomas de dengue?",
			Answer:   "Os sintomas da dengue incluem febre alta, dores musculares, dor atrás dos olhos, manchas vermelhas na pele e fadiga intensa. Se houver sinais de gravidade, como sangramento ou tontura intensa, procure atendimento médico imediato.",
		},
		{
			Question: "como tratar uma gripe?",
			Answer:   "O tratamento da gripe inclui repouso, hidratação e uso de antitérmicos para febre. Se houver falta de ar ou sintomas persistentes, consulte um médico.",
		},
		{
			Question: "quando tomar antibiótico?",
			Answer:   "Antibióticos devem ser usados somente com prescrição médica para infecções bacterianas. O uso inadequado pode causar resistência aos medicamentos.",
		},
	}
}
