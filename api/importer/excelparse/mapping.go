package excelparse

import (
	"regexp"
	"strings"
)

// Field names the semantic columns of a budget import.
type Field string

const (
	FieldImputation    Field = "imputation"
	FieldObjectif      Field = "os"
	FieldAction        Field = "action"
	FieldActivite      Field = "activite"
	FieldSousActivite  Field = "sous_activite"
	FieldDirection     Field = "direction"
	FieldNatureDepense Field = "nature_depense"
	FieldNBE           Field = "nbe"
	FieldMontant       Field = "montant"
)

// FieldPatterns pairs a field with its ordered detection patterns. The table
// is data, not behavior: callers with other header conventions supply their
// own table to DetectMapping.
type FieldPatterns struct {
	Field    Field
	Patterns []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		res[i] = regexp.MustCompile("(?i)" + e)
	}
	return res
}

// DefaultMappingRules reflects the header vocabulary of the organization's
// historical budget workbooks (French, accents optional).
func DefaultMappingRules() []FieldPatterns {
	return []FieldPatterns{
		{FieldImputation, compile(`imputation`, `code.*budg`, `^ligne$`, `code.*ligne`)},
		{FieldObjectif, compile(`^os$`, `objectif.*strat`, `o\.s\.`)},
		{FieldAction, compile(`^action`, `^act\.`)},
		{FieldActivite, compile(`^activite`, `^activ`)},
		{FieldSousActivite, compile(`sous.*activ`, `s/activ`)},
		{FieldDirection, compile(`^direction`, `^dir\.?$`, `^dir `)},
		{FieldNatureDepense, compile(`nature.*depense`, `^nature$`, `type.*depense`)},
		{FieldNBE, compile(`^nbe$`, `nomenclature`, `nature.*eco`)},
		{FieldMontant, compile(`montant`, `dotation`, `^budget$`, `prevision`, `credit`, `allocation`)},
	}
}

// Mapping binds fields to header indexes. A field absent from the map means
// its column was not found; consumers must treat that explicitly, never
// infer a column.
type Mapping map[Field]int

// DetectMapping tries each field's patterns, in order, against every header
// in header order; first match wins and the field is not re-examined. The
// result is advisory: callers may override entries before extraction.
func DetectMapping(headers []string, rules []FieldPatterns) Mapping {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = StripAccents(strings.TrimSpace(h))
	}

	mapping := Mapping{}
	for _, rule := range rules {
		for _, re := range rule.Patterns {
			found := false
			for i, h := range normalized {
				if h != "" && re.MatchString(h) {
					mapping[rule.Field] = i
					found = true
					break
				}
			}
			if found {
				break
			}
		}
	}
	return mapping
}
