package routing

import "chat-calls/internal/media"

// Decision is the output of provider selection for one call attempt.
//
// It carries only what the media boundary needs to join: the provider and
// the channel name both participants derive.
type Decision struct {
	Provider media.Provider `json:"provider"`
	Channel  string         `json:"channel"`

	// Reason is optional and intended for internal logs.
	Reason string `json:"reason,omitempty"`
}

// Preferences is the local snapshot provider selection reads.
type Preferences struct {
	PreferDecentralized     bool
	CentralizedConfigured   bool
	DecentralizedConfigured bool
}

func (p Preferences) Configured(m media.Provider) bool {
	switch m {
	case media.ProviderCentralized:
		return p.CentralizedConfigured
	case media.ProviderDecentralized:
		return p.DecentralizedConfigured
	default:
		return false
	}
}

// Providers lists the configured providers, preferred one first. Offers carry
// this list so the callee knows what it may fall back to.
func (p Preferences) Providers() []media.Provider {
	var out []media.Provider
	first, second := media.ProviderCentralized, media.ProviderDecentralized
	if p.PreferDecentralized {
		first, second = second, first
	}
	if p.Configured(first) {
		out = append(out, first)
	}
	if p.Configured(second) {
		out = append(out, second)
	}
	return out
}
