// Package session provides the server-side session store the security
// context persists token state in.
//
// A [Session] holds small serialized blobs keyed by string and a set of tags.
// Tags make sessions findable by an attribute, for example every session an
// account is logged in with ([AccountTag]), so they can be destroyed together.
//
// Concurrent requests of the same session share one *Session. Blob writes that
// depend on the previous value go through [Session.Modify], which runs the
// read-modify-write under the per-session lock.
//
// [Handle] is the per-request view: it resumes a session from an identifier
// (usually a cookie), starts one lazily when authentication needs it and
// destroys it on logout.
package session
