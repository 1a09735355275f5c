package provider

import (
	"fmt"

	"github.com/reclip/reclip/types"
)

// Keys holds provider API keys for client resolution.
type Keys struct {
	Kie    string
	Defapi string
}

// Endpoints allows overriding provider base URLs (tests, proxies).
type Endpoints struct {
	Kie    string
	Defapi string
}

// providerModels 每个供应商支持的模型（封闭集合）
var providerModels = map[types.ProviderID][]types.ModelID{
	types.ProviderKie: {
		types.ModelVeo31Fast,
		types.ModelVeo31Quality,
		types.ModelSora2,
		types.ModelSora2Pro,
	},
	types.ProviderDefapi: {
		types.ModelDefapiVeo31,
	},
}

// Supports reports whether the provider serves the given model.
func Supports(provider types.ProviderID, model types.ModelID) bool {
	for _, m := range providerModels[provider] {
		if m == model {
			return true
		}
	}
	return false
}

// Resolve maps a provider id to a concrete client exactly once, at
// session creation. The rest of the core holds the returned Client and
// never re-dispatches on the provider string.
func Resolve(provider types.ProviderID, model types.ModelID, keys Keys, endpoints Endpoints) (Client, error) {
	if !provider.Valid() {
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown provider: %q", provider))
	}
	if !Supports(provider, model) {
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("model %q not served by provider %q", model, provider))
	}

	switch provider {
	case types.ProviderKie:
		if keys.Kie == "" {
			return nil, types.NewError(types.ErrKeyMissing, "kie.ai API key not configured")
		}
		return NewKieClient(KieConfig{APIKey: keys.Kie, BaseURL: endpoints.Kie}), nil
	default:
		if keys.Defapi == "" {
			return nil, types.NewError(types.ErrKeyMissing, "defapi.org API key not configured")
		}
		return NewDefapiClient(DefapiConfig{APIKey: keys.Defapi, BaseURL: endpoints.Defapi}), nil
	}
}
