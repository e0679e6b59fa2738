package netservice

import (
	"fmt"
	"net/http"
)

// Chain is an ordered list of plugins. Order is execution order.
type Chain []Plugin

// NewChain copies plugins so later changes to the caller's slice do not
// affect the chain.
func NewChain(plugins ...Plugin) Chain {
	chain := make(Chain, len(plugins))
	copy(chain, plugins)
	return chain
}

// Apply runs every plugin left to right, feeding each the previous output.
// The first failing plugin aborts the chain and no request is returned.
func (c Chain) Apply(req *http.Request) (*http.Request, error) {
	current := req
	for i, plugin := range c {
		next, err := plugin.Process(current)
		if err != nil {
			return nil, fmt.Errorf("plugin %d (%T): %w", i, plugin, err)
		}
		if next == nil || next.URL == nil {
			return nil, fmt.Errorf("plugin %d (%T): %w", i, plugin, ErrNilRequest)
		}
		current = next
	}
	return current, nil
}

// Len returns the number of plugins.
func (c Chain) Len() int {
	return len(c)
}
