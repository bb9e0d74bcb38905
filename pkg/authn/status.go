package authn

import "fmt"

// Status is the authentication state of a token.
type Status int

const (
	// NoCredentialsGiven means the request carried nothing for this token.
	NoCredentialsGiven Status = iota + 1

	// AuthenticationNeeded means credentials arrived and await a provider.
	AuthenticationNeeded

	// WrongCredentials means a provider rejected the credentials.
	WrongCredentials

	// AuthenticationSuccessful means a provider accepted the credentials
	// and bound an account.
	AuthenticationSuccessful
)

var statusNames = map[Status]string{
	NoCredentialsGiven:       "NO_CREDENTIALS_GIVEN",
	AuthenticationNeeded:     "AUTHENTICATION_NEEDED",
	WrongCredentials:         "WRONG_CREDENTIALS",
	AuthenticationSuccessful: "AUTHENTICATION_SUCCESSFUL",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus converts the String form back into a Status.
func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown token status %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("unknown token status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	st, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// transitions lists the states reachable from each state. Credential
// arrival and absence are reachable from anywhere; provider verdicts only
// from AuthenticationNeeded.
var transitions = map[Status][]Status{
	NoCredentialsGiven:       {NoCredentialsGiven, AuthenticationNeeded},
	AuthenticationNeeded:     {NoCredentialsGiven, AuthenticationNeeded, WrongCredentials, AuthenticationSuccessful},
	WrongCredentials:         {NoCredentialsGiven, AuthenticationNeeded},
	AuthenticationSuccessful: {NoCredentialsGiven, AuthenticationNeeded},
}

// ValidateTransition returns an error if moving from one status to another
// is not allowed.
func ValidateTransition(from, to Status) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid token status transition from %s to %s", from, to)
}
