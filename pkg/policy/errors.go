package policy

import (
	"errors"
	"regexp"
)

// ErrUnknownRole is returned when a role identifier is not part of the graph.
var ErrUnknownRole = errors.New("unknown role")

// ErrUnknownTarget is returned when a privilege target identifier is not part of the graph.
var ErrUnknownTarget = errors.New("unknown privilege target")

var identifierPattern = regexp.MustCompile(`^\w+(\.\w+)*:\w+$`)

// ValidIdentifier reports whether id has the "Package:Name" form used for
// roles and privilege targets.
func ValidIdentifier(id string) bool {
	return identifierPattern.MatchString(id)
}
