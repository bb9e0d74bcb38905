// Package authn authenticates requests against a chain of providers.
//
// A request carries one or more tokens. Each token extracts credentials from
// the request and moves through a small state machine:
//
//	NO_CREDENTIALS_GIVEN -> AUTHENTICATION_NEEDED -> WRONG_CREDENTIALS
//	                                              -> AUTHENTICATION_SUCCESSFUL
//
// The Manager walks the tokens in configured order and hands every token
// that needs authentication to the first capable Provider. Its Strategy
// decides how many tokens must succeed.
//
// Provider implementations live in subpackages:
//   - password: persisted accounts with bcrypt hashes
//   - apikey: static keys mapped to configured accounts
//   - jwt: stateless HMAC signed bearer tokens
package authn
