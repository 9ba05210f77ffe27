package ensemble

import (
	"fmt"
	"strings"
)

// NewPrefixRouter builds a ProviderRouter that dispatches on the
// provider-qualified model id's prefix before the first "/"
// (e.g. "openai/gpt-4o-mini", "google/gemini-1.5-pro"). The provider
// adapter receives the unqualified model id with the prefix stripped.
func NewPrefixRouter(byPrefix map[string]Provider) ProviderRouter {
	return func(model string) (Provider, error) {
		prefix, _, ok := strings.Cut(model, "/")
		if !ok {
			return nil, fmt.Errorf("%w: model id %q has no provider prefix", ErrInvalidDefinition, model)
		}
		p, ok := byPrefix[prefix]
		if !ok {
			return nil, fmt.Errorf("%w: no provider registered for prefix %q", ErrInvalidDefinition, prefix)
		}
		return p, nil
	}
}

// UnqualifiedModel strips the provider prefix from a qualified model id.
func UnqualifiedModel(model string) string {
	_, rest, ok := strings.Cut(model, "/")
	if !ok {
		return model
	}
	return rest
}
