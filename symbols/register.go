package symbols

import (
	"regexp"
	"time"

	"github.com/mailscore/core/core/collaborators"
	"github.com/mailscore/core/core/symbol"
	"github.com/mailscore/core/maps"
)

// Collaborators bundles the resolvers these illustrative symbols reach
// through, so Register has a single dependency-injection point.
type Collaborators struct {
	Resolver  collaborators.Resolver
	KV        collaborators.KVStore
	Allowlist maps.Map
}

// Register installs the illustrative built-in symbols into reg: two header
// checks, plus an RBL lookup, a per-sender rate counter and a sender
// allowlist check, each only when its collaborator in collabs is non-nil.
func Register(reg *symbol.Registry, collabs Collaborators) error {
	if collabs.Resolver != nil {
		if _, err := reg.Register(symbol.Item{
			Name:     "RBL_SPAMHAUS",
			Type:     symbol.TypeFilter,
			Weight:   5.0,
			Group:    "rbl",
			Callback: &DNSBL{Name: "RBL_SPAMHAUS", Zone: "zen.spamhaus.org", Resolver: collabs.Resolver},
		}); err != nil {
			return err
		}
	}

	if _, err := reg.Register(symbol.Item{
		Name:     "MISSING_SUBJECT",
		Type:     symbol.TypeFilter,
		Weight:   1.0,
		Group:    "headers",
		Callback: &MissingHeader{Name: "MISSING_SUBJECT", Header: "subject"},
	}); err != nil {
		return err
	}

	if _, err := reg.Register(symbol.Item{
		Name:   "SUBJECT_ALL_CAPS",
		Type:   symbol.TypeFilter,
		Weight: 2.0,
		Group:  "headers",
		Callback: &HeaderRegex{
			Name:    "SUBJECT_ALL_CAPS",
			Header:  "subject",
			Pattern: regexp.MustCompile(`^[^a-z]*[A-Z]{4,}[^a-z]*$`),
		},
	}); err != nil {
		return err
	}

	if collabs.KV != nil {
		if _, err := reg.Register(symbol.Item{
			Name:   "SENDER_RATE_EXCEEDED",
			Type:   symbol.TypeFilter,
			Weight: 3.0,
			Group:  "rate",
			Callback: &RateStat{
				Name:   "SENDER_RATE_EXCEEDED",
				Store:  collabs.KV,
				Limit:  50,
				Window: time.Hour,
			},
		}); err != nil {
			return err
		}
	}

	if collabs.Allowlist != nil {
		if _, err := reg.Register(symbol.Item{
			Name:     "SENDER_ALLOWLISTED",
			Type:     symbol.TypeConnect,
			Weight:   -10.0,
			Group:    "allowlist",
			Callback: &SenderAllowlist{Name: "SENDER_ALLOWLISTED", Map: collabs.Allowlist},
		}); err != nil {
			return err
		}
	}

	return nil
}
