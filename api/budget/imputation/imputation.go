package imputation

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment layout of an imputation code:
// OS(2) + [Action(2)] + Activite(3) + SousActivite(2) + Direction(2) + Nature(1) + NBE(6)
//
// Format18 codes carry the action segment (18 digits). Format17 is the
// historical label for codes without an action segment; their actual length
// is 16 digits. The label predates this system and is kept for continuity
// with existing records.
const (
	Format18 = "18"
	Format17 = "17"

	Len18 = 18
	Len17 = 16

	NBELength = 6
)

// Components holds the structured pieces of a budget imputation. Nil means
// the component was absent from the source. CodeLitteral is an optional
// code supplied verbatim (e.g. from a spreadsheet column) used only as a
// cross-check, never as ground truth.
type Components struct {
	Objectif      *int
	Action        *int
	Activite      *int
	SousActivite  *int
	Direction     *int
	NatureDepense *int
	NBE           string
	CodeLitteral  string
}

// Result of building an imputation. Code is empty when mandatory components
// are missing, unless a literal fallback applied (see Build).
type Result struct {
	Code     string
	Format   string
	Errors   []string
	Warnings []string
}

func (r Result) IsValid() bool { return len(r.Errors) == 0 }

// Normalize strips every non-digit character from a code. Normalizing an
// already-normalized code is a no-op.
func Normalize(code string) string {
	var b strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PadCode renders a component code zero-padded to the given width.
func PadCode(code, width int) string {
	return fmt.Sprintf("%0*d", width, code)
}

// LeadingDigits returns the leading digit run of s, after trimming spaces.
func LeadingDigits(s string) string {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

// ParseComponentCode extracts a hierarchical component code from a raw cell
// string: the leading digit run, e.g. "03 - Transport" -> 3.
func ParseComponentCode(s string) (int, bool) {
	digits := LeadingDigits(s)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NormalizeNBE canonicalizes an NBE code to exactly 6 digits. The digit run
// before any ":" or space separator is taken ("621100 : Achats" -> "621100"),
// left-padded with zeros when shorter, truncated to the first 6 digits when
// longer. An input with no digits at all is an error.
func NormalizeNBE(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, ": "); i >= 0 {
		s = s[:i]
	}
	digits := Normalize(s)
	if digits == "" {
		return "", fmt.Errorf("code NBE invalide: %q", raw)
	}
	if len(digits) > NBELength {
		digits = digits[:NBELength]
	}
	for len(digits) < NBELength {
		digits = "0" + digits
	}
	return digits, nil
}

// Build assembles the canonical imputation code from components.
//
// Every mandatory component missing is enumerated in Errors (the build never
// stops at the first gap). When no code could be computed but a literal code
// was supplied, the normalized literal is used as fallback with a warning.
// When both a computed code and a literal exist, a digits-only mismatch is an
// error: spreadsheet tools corrupt long digit strings via scientific-notation
// rounding, so the recomputed code wins and the conflict must be surfaced.
func Build(c Components) Result {
	res := Result{}

	if c.Objectif == nil {
		res.Errors = append(res.Errors, "OS manquant")
	}
	if c.Activite == nil {
		res.Errors = append(res.Errors, "Activité manquante")
	}
	if c.SousActivite == nil {
		res.Errors = append(res.Errors, "Sous-activité manquante")
	}
	if c.Direction == nil {
		res.Errors = append(res.Errors, "Direction manquante")
	}
	if c.NatureDepense == nil {
		res.Errors = append(res.Errors, "Nature de dépense manquante")
	}

	var nbe string
	if strings.TrimSpace(c.NBE) == "" {
		res.Errors = append(res.Errors, "NBE manquant")
	} else {
		var err error
		nbe, err = NormalizeNBE(c.NBE)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}

	if len(res.Errors) == 0 {
		var b strings.Builder
		b.WriteString(PadCode(*c.Objectif, 2))
		if c.Action != nil {
			b.WriteString(PadCode(*c.Action, 2))
			res.Format = Format18
		} else {
			res.Format = Format17
		}
		b.WriteString(PadCode(*c.Activite, 3))
		b.WriteString(PadCode(*c.SousActivite, 2))
		b.WriteString(PadCode(*c.Direction, 2))
		b.WriteString(PadCode(*c.NatureDepense, 1))
		b.WriteString(nbe)
		res.Code = b.String()
	}

	literal := Normalize(c.CodeLitteral)
	switch {
	case res.Code != "" && literal != "" && literal != res.Code:
		res.Errors = append(res.Errors, fmt.Sprintf(
			"Imputation fournie (%s) différente de l'imputation recalculée (%s)", literal, res.Code))
	case res.Code == "" && literal != "":
		res.Code = literal
		switch len(literal) {
		case Len18:
			res.Format = Format18
		case Len17:
			res.Format = Format17
		}
		res.Warnings = append(res.Warnings, "Imputation non recalculée, code littéral utilisé")
	}

	return res
}
