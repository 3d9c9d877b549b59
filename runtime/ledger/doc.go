// Package ledger tracks a canister's spendable cycle balance, its reserved
// balance, and cumulative consumption broken down by use case. It enforces
// conservation (any prepayment debited at call start is either fully
// consumed or fully refunded by call end) while pricing itself is supplied
// by an external policy.
package ledger
