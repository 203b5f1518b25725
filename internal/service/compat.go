package service

import (
	"regexp"
	"strconv"
	"strings"
)

// ─── Book compatibility rules ───────────────────────────────

// Grade markers that are usable at any school level (revision guides,
// dictionaries, atlases and the like are listed with these).
var universalGrades = map[string]bool{
	"all":        true,
	"any":        true,
	"universal":  true,
	"general":    true,
	"all levels": true,
}

// primaryGrades covers CBC pre-primary and primary plus the old 8-4-4 names.
var primaryGrades = map[string]bool{
	"pp1": true, "pp2": true,
	"grade 1": true, "grade 2": true, "grade 3": true,
	"grade 4": true, "grade 5": true, "grade 6": true,
	"class 1": true, "class 2": true, "class 3": true, "class 4": true,
	"class 5": true, "class 6": true, "class 7": true, "class 8": true,
	"standard 1": true, "standard 2": true, "standard 3": true, "standard 4": true,
	"standard 5": true, "standard 6": true, "standard 7": true, "standard 8": true,
}

// secondaryGrades covers forms plus CBC junior/senior secondary.
var secondaryGrades = map[string]bool{
	"form 1": true, "form 2": true, "form 3": true, "form 4": true,
	"grade 7": true, "grade 8": true, "grade 9": true,
	"grade 10": true, "grade 11": true, "grade 12": true,
}

// conditionRank orders book conditions for the ±2 compatibility window.
var conditionRank = map[string]int{
	"new":      4,
	"like new": 3,
	"good":     2,
	"fair":     1,
}

var firstInt = regexp.MustCompile(`\d+`)

// BookLevelCompatible reports whether a book of the given grade fits a
// student at the given school level. Universal markers always pass. A school
// level that is neither primary nor secondary defaults to compatible — a
// deliberate permissive policy, not an oversight.
func BookLevelCompatible(grade, schoolLevel string) bool {
	g := strings.ToLower(strings.TrimSpace(grade))
	if g == "" || universalGrades[g] {
		return true
	}

	level := strings.ToLower(schoolLevel)
	switch {
	case strings.Contains(level, "primary"):
		return primaryGrades[g]
	case strings.Contains(level, "secondary"):
		return secondaryGrades[g]
	}
	return true
}

// BooksCompatible reports whether two books are close enough to swap:
// subjects must match when both are given, numeric grades (first integer in
// the grade string) must be within 2 levels when both resolve, and condition
// ranks must be within 2 when both are known.
func BooksCompatible(gradeA, gradeB, subjectA, subjectB, conditionA, conditionB string) bool {
	if subjectA != "" && subjectB != "" &&
		!strings.EqualFold(strings.TrimSpace(subjectA), strings.TrimSpace(subjectB)) {
		return false
	}

	if na, okA := gradeNumber(gradeA); okA {
		if nb, okB := gradeNumber(gradeB); okB {
			if abs(na-nb) > 2 {
				return false
			}
		}
	}

	ra, okA := conditionRank[strings.ToLower(strings.TrimSpace(conditionA))]
	rb, okB := conditionRank[strings.ToLower(strings.TrimSpace(conditionB))]
	if okA && okB && abs(ra-rb) > 2 {
		return false
	}

	return true
}

// gradeNumber extracts the first integer from a grade string ("Grade 5",
// "Form 2", "Class 8" all resolve).
func gradeNumber(grade string) (int, bool) {
	m := firstInt.FindString(grade)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
