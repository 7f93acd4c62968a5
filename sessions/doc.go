// Package sessions holds the demo's sign-in sessions: a Session record keyed
// by an opaque "sess_" id, the Store interface that persists them, and the
// AutoAuthenticator that completes a pending sign-in after a delay.
//
// Sessions are shared by every logical server and by the REST surface. A
// session is created unauthenticated and moves to authenticated exactly once
// per sign-in; Logout returns it to the unauthenticated state. Stores apply
// mutations atomically through ApplyMutation so concurrent tool calls and
// REST requests never observe a partial update.
//
// Two implementations ship with the module: memorystore for a single process
// and redisstore for deployments that share sessions across replicas.
// sessionstoretest carries the conformance suite both must pass.
package sessions
