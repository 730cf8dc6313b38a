package routing

import (
	"errors"
	"sort"
	"strings"

	"chat-calls/internal/media"
)

// Provider selection for 1:1 and group calls.
//
// Priority:
//  1. The user's decentralized preference, if that provider is configured
//  2. Centralized, if configured
//  3. Whatever remains configured
//
// Return routing decision only. No side effects (no signaling writes, no joins).

var ErrNoProvider = errors.New("routing: no media provider configured")

const (
	centralizedDirectPrefix = "dm_"
	centralizedGroupPrefix  = "grp_"
	meshPrefix              = "mesh-"
	meshGroupPrefix         = "mesh-grp-"
	fallbackSuffix          = "-fb"
)

// Select picks the provider for a new call.
func Select(p Preferences) (media.Provider, string, error) {
	if p.PreferDecentralized && p.DecentralizedConfigured {
		return media.ProviderDecentralized, "preferred", nil
	}
	if p.CentralizedConfigured {
		if p.PreferDecentralized {
			return media.ProviderCentralized, "preferred_unavailable", nil
		}
		return media.ProviderCentralized, "default", nil
	}
	if p.DecentralizedConfigured {
		return media.ProviderDecentralized, "only_configured", nil
	}
	return media.ProviderNone, "", ErrNoProvider
}

// Decide selects a provider and names the channel for a 1:1 call.
func Decide(p Preferences, callerID, calleeID, nonce string) (Decision, error) {
	provider, reason, err := Select(p)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Provider: provider,
		Channel:  ChannelName(provider, callerID, calleeID, nonce),
		Reason:   reason,
	}, nil
}

// Fallback returns the single alternate provider worth retrying after a
// failed join, or false when none is configured.
func Fallback(p Preferences, failed media.Provider) (Decision, bool) {
	alt := Alternate(failed)
	if !p.Configured(alt) {
		return Decision{}, false
	}
	return Decision{Provider: alt, Reason: "fallback"}, true
}

func Alternate(p media.Provider) media.Provider {
	switch p {
	case media.ProviderCentralized:
		return media.ProviderDecentralized
	case media.ProviderDecentralized:
		return media.ProviderCentralized
	default:
		return media.ProviderNone
	}
}

// ChannelName returns the channel for a 1:1 call. Centralized names are derived
// from the two peer ids so either side can compute them; decentralized names
// are scoped by a per-call nonce.
func ChannelName(p media.Provider, callerID, calleeID, nonce string) string {
	switch p {
	case media.ProviderCentralized:
		ids := []string{strings.ToLower(callerID), strings.ToLower(calleeID)}
		sort.Strings(ids)
		return centralizedDirectPrefix + ids[0] + "_" + ids[1]
	case media.ProviderDecentralized:
		return meshPrefix + nonce
	default:
		return ""
	}
}

// FallbackChannelName names the channel used by a re-offer after fallback.
func FallbackChannelName(p media.Provider, callerID, calleeID, nonce string) string {
	if p == media.ProviderDecentralized {
		return ChannelName(p, callerID, calleeID, nonce+fallbackSuffix)
	}
	return ChannelName(p, callerID, calleeID, nonce)
}

func GroupChannelName(p media.Provider, groupID string) string {
	switch p {
	case media.ProviderCentralized:
		return centralizedGroupPrefix + groupID
	case media.ProviderDecentralized:
		return meshGroupPrefix + groupID
	default:
		return ""
	}
}

// ProviderForChannel recovers the provider from a channel name. Names that do
// not follow the centralized convention belong to the mesh.
func ProviderForChannel(channel string) media.Provider {
	if channel == "" {
		return media.ProviderNone
	}
	if strings.HasPrefix(channel, centralizedDirectPrefix) || strings.HasPrefix(channel, centralizedGroupPrefix) {
		return media.ProviderCentralized
	}
	return media.ProviderDecentralized
}
