package story

import (
	"fmt"
	"strings"
)

// PriorityClass is the category governing selection order among pending topics
type PriorityClass string

const (
	ClassSuperVIP PriorityClass = "SuperVIP"
	ClassVIP      PriorityClass = "VIP"
	ClassUser     PriorityClass = "User"
	ClassRSS      PriorityClass = "RSS"
	ClassSystem   PriorityClass = "System"
)

// classRanks is the canonical ordered list of priority classes.
// Higher rank is selected first. New tiers are added here with a rank
// that places them relative to the existing ones.
var classRanks = map[PriorityClass]int{
	ClassSuperVIP: 9,
	ClassVIP:      8,
	ClassUser:     5,
	ClassRSS:      2,
	ClassSystem:   0,
}

// Classes returns all known priority classes ordered by rank, highest first
func Classes() []PriorityClass {
	return []PriorityClass{ClassSuperVIP, ClassVIP, ClassUser, ClassRSS, ClassSystem}
}

// Rank returns the selection rank of the class
func (c PriorityClass) Rank() int {
	return classRanks[c]
}

// Valid reports whether the class is part of the canonical list
func (c PriorityClass) Valid() bool {
	_, ok := classRanks[c]
	return ok
}

func (c PriorityClass) String() string {
	return string(c)
}

// ParsePriorityClass resolves a class name case-insensitively
func ParsePriorityClass(name string) (PriorityClass, error) {
	for _, c := range Classes() {
		if strings.EqualFold(string(c), strings.TrimSpace(name)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown priority class %q", name)
}
