package cycles

import "sort"

// UseCase classifies what a cycle charge paid for. The tag drives refund
// bookkeeping and cost attribution only; pricing is decided elsewhere.
type UseCase string

const (
	UseCaseMemory              UseCase = "memory"
	UseCaseComputeAllocation   UseCase = "compute-allocation"
	UseCaseIngressInduction    UseCase = "ingress-induction"
	UseCaseInstructions        UseCase = "instructions"
	UseCaseRequestTransmission UseCase = "request-transmission"
	UseCaseInstallCode         UseCase = "install-code"
	UseCaseUninstall           UseCase = "uninstall"
	UseCaseCanisterCreation    UseCase = "canister-creation"
	UseCaseHTTPOutcalls        UseCase = "http-outcalls"
	UseCaseDroppedMessages     UseCase = "dropped-messages"
)

// SortedUseCases returns the keys of a consumption map in lexicographic
// order so that every serialization or iteration over the map is identical
// across replicas.
func SortedUseCases(m map[UseCase]Cycles) []UseCase {
	out := make([]UseCase, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
