// Package session manages the lifetime of a server-under-test child
// process and exposes its stdin/stdout as a Transport.
//
// A Session owns exactly one child process and its pipes. Standard
// output carries protocol data; standard error is collected in the
// background for diagnostics and is never parsed as protocol data.
//
// Lifecycle
//
//	Created ──Start──▶ Running ──Close──▶ Closing ──▶ Terminated
//
// Terminated is terminal. Transport operations attempted after
// termination fail with ErrConnectionClosed. Constructing the Session
// with a cancellable context guarantees the process is killed even when
// the caller skips Close.
package session
