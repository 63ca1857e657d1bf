// Package flows contains the orchestration of every Engine use case.
//
// Each flow function (RunRegister, RunLogin, RunCompletePasswordReset, etc.)
// accepts a typed dependency struct and returns a flow-local result or a
// host sentinel error supplied through [Errors]. The Engine builds the
// dependency structs once and delegates its public methods here, which keeps
// the Engine type thin and lets every flow run against a temporary record
// store in tests.
//
// # Architecture boundaries
//
// Flow functions coordinate the validator, repositories, session authority,
// limiter, notifications, audit and metrics. They do NOT own any of these
// resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root package (to avoid import cycles).
//   - Open transactions itself; every transactional boundary goes through
//     [Common.InTx].
package flows
