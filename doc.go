// Package authsession provides a client-side authentication session layer on
// top of a hosted identity service (Supabase Auth / GoTrue) plus an observer
// that mirrors the authenticated identity into local reactive state.
//
// Client:
//   - Client is the single point of contact with the remote identity service.
//     Build one per process with NewClient and inject it where needed; it keeps
//     exactly one upstream subscription with its Backend and fans
//     notifications out to local subscribers.
//   - Every failure is normalized into the error taxonomy declared in
//     errors.go (transport, credential, conflict, unknown) using go-errors.
//
// Observer:
//   - Observer owns a State{Identity, Loading, LastError}. Activate fetches the
//     current identity and subscribes to changes; Deactivate releases the
//     subscription exactly once, even when registration is still pending.
//   - All mutations run on a single serialized loop per observer. A liveness
//     flag drops any mutation that settles after Deactivate.
//
// Backends:
//   - gotrue talks HTTP to Supabase Auth and persists sessions in a
//     store.Store. memory is an in-process service for development and tests.
package authsession
