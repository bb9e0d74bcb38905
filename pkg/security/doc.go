// Package security provides the per-request security context.
//
// A Context merges the tokens persisted in the session with the configured
// tokens, decides which tokens are active for the request, lazily
// authenticates them and derives the current roles. It also owns CSRF
// protection tokens, the redirect-after-login request and the context hash
// that caches can use to partition entries by authorization state.
//
// Authorization checks can be suspended for a call chain:
//
//	err := security.WithoutAuthorizationChecks(ctx, func(ctx context.Context) error {
//		return loadDocuments(ctx)
//	})
package security
