package provider

import "github.com/reclip/reclip/types"

// IncrementFor returns the duration bucket for a provider/model pair without
// resolving a client. Cost estimation calls this before any API key is
// configured; values match the Client implementations.
func IncrementFor(p types.ProviderID, model types.ModelID) float64 {
	if p == types.ProviderKie {
		switch model {
		case types.ModelSora2, types.ModelSora2Pro:
			return 10
		}
	}
	return 8
}
