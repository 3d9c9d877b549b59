// Package callcontext tracks every open inbound call of a canister and every
// outstanding outbound call it has made. The Manager owns two strictly
// increasing id counters, the id-keyed context and callback tables, and the
// set of unexpired best-effort callbacks. All mutation goes through the
// Manager so the at-most-one-response and id-monotonicity invariants hold on
// every replica for the same input sequence.
package callcontext
