package types

import (
	"fmt"
	"regexp"
	"strings"
)

// Name rules shared by events and users. The same rule is enforced at
// registration time by the CTF platform, so folded names line up with
// world directories on disk.
const (
	NameMinLen = 4
	NameMaxLen = 32
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ValidateName checks an event or user name against the shared rule and
// returns its canonical lowercase form.
func ValidateName(name string) (string, error) {
	if len(name) < NameMinLen || len(name) > NameMaxLen || !namePattern.MatchString(name) {
		return "", fmt.Errorf("name %q must be %d-%d letters or digits", name, NameMinLen, NameMaxLen)
	}
	return strings.ToLower(name), nil
}
