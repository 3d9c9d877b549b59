// Package canstate manages the per-canister execution state of a replicated
// compute node: call contexts and callbacks, the schedulable task queue, the
// cycles ledger and the bounded change history.
//
// The package is designed to be embedded. The containing node supplies the
// deterministic inputs (consensus-ordered messages, round time, instruction
// budgets) and the collaborators (the wasm interpreter, the pricing policy,
// persistence); canstate enforces the state invariants:
//
//	srv := canstate.New(
//		canstate.WithInterpreter(interp),
//		canstate.WithPricer(pricer),
//	)
//	_ = srv.CreateCanister("canister-1", cycles.New(1_000_000),
//		history.FromUser("admin"), now)
//	_, _ = srv.Induct(ctx, "canister-1", msg, now)
//	_, _ = srv.ExecuteSlice(ctx, "canister-1", budget, now)
//
// All replicated state transitions take time as an explicit argument and
// never consult the wall clock, so replicas that apply the same inputs reach
// identical state.
package canstate
