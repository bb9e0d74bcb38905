// Package api defines the shared error taxonomy and identifier helpers for
// keystone.
//
// Every failure raised by the security core falls into one of four categories:
//   - [ErrorTypeConfiguration]: a broken policy, provider or token setup. Fatal,
//     surfaced at startup or context initialization and never retried.
//   - [ErrorTypeAuthenticationRequired]: recoverable. The caller either retries
//     with fresh credentials or redirects to an entry point.
//   - [ErrorTypeAccessDenied]: a definitive refusal for the current check.
//   - [ErrorTypeUnsupportedConstraint]: a row-security rule that cannot be
//     translated safely. Fatal, raised when the filter is built.
//
// Errors are returned as [*Error] values which match the package sentinels
// through errors.Is, so callers can test the category without a type switch:
//
//	if errors.Is(err, api.ErrAuthenticationRequired) {
//		// challenge the client
//	}
//
// The package has zero external dependencies and performs no I/O.
package api
