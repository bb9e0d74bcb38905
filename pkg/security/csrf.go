package security

import (
	"fmt"
	"slices"
)

// CSRFStrategy controls how CSRF protection tokens are issued.
type CSRFStrategy int

const (
	// OnePerSession issues a single token for the whole session.
	OnePerSession CSRFStrategy = iota

	// OnePerRequest issues one token for each request that asks for one.
	OnePerRequest

	// OnePerURI issues a token on every call; each token is valid once.
	OnePerURI
)

var csrfStrategyNames = map[CSRFStrategy]string{
	OnePerSession: "onePerSession",
	OnePerRequest: "onePerRequest",
	OnePerURI:     "onePerUri",
}

func (s CSRFStrategy) String() string {
	if name, ok := csrfStrategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CSRFStrategy(%d)", int(s))
}

// ParseCSRFStrategy parses a configured strategy name such as "onePerUri".
func ParseCSRFStrategy(s string) (CSRFStrategy, error) {
	for st, name := range csrfStrategyNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown csrf strategy %q", s)
}

// maxCSRFTokens bounds the tokens remembered per session; the oldest are
// dropped first.
const maxCSRFTokens = 64

type csrfTokens []string

func (c csrfTokens) add(token string) csrfTokens {
	c = append(c, token)
	if len(c) > maxCSRFTokens {
		c = slices.Clone(c[len(c)-maxCSRFTokens:])
	}
	return c
}

func (c csrfTokens) remove(token string) csrfTokens {
	return slices.DeleteFunc(c, func(t string) bool { return t == token })
}
