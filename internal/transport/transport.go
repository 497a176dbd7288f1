// Package transport is the boundary to the external trade-protocol library.
// The engine and supervisor depend only on the interfaces and event types
// declared here; the wire protocol itself lives on the other side.
package transport

import (
	"context"
	"encoding/json"

	"automatic/internal/domain"
)

// Event is a typed notification from the trade transport. Exactly one of the
// variant structs below implements it per occurrence.
type Event interface {
	event()
}

// OfferArrived carries a newly received trade proposal.
type OfferArrived struct {
	Proposal domain.TradeProposal
}

// OfferChanged reports that a previously seen proposal moved to a new remote
// state. Proposal reflects the state after the change.
type OfferChanged struct {
	Proposal domain.TradeProposal
	OldState domain.ProposalState
}

// PollDataChanged carries the transport's opaque poll checkpoint. The agent
// persists it verbatim and never inspects it.
type PollDataChanged struct {
	Blob json.RawMessage
}

// SessionInvalidated signals that the transport observed an expired or
// rejected session while talking to the platform.
type SessionInvalidated struct{}

func (OfferArrived) event()       {}
func (OfferChanged) event()       {}
func (PollDataChanged) event()    {}
func (SessionInvalidated) event() {}

type AcceptStatus string

const (
	AcceptPending  AcceptStatus = "pending"
	AcceptComplete AcceptStatus = "complete"
)

// TradeActions is the remote action surface the resolver uses.
type TradeActions interface {
	Accept(ctx context.Context, offerID string) (AcceptStatus, error)
	Decline(ctx context.Context, offerID string) error
}

// SessionSink receives fresh session artifacts. SetSessionArtifacts performs
// the remote API key fetch as a side effect; an error from it at startup is
// fatal because no offer handling is possible without the key.
type SessionSink interface {
	SetSessionArtifacts(ctx context.Context, artifacts domain.SessionArtifacts) error
	APIKey() string
}

// Offer is the raw wire shape of a trade offer as the transport delivers it.
type Offer struct {
	ID             string      `json:"id"`
	Partner        string      `json:"partner"`
	State          string      `json:"state"`
	ItemsToReceive []WireAsset `json:"items_to_receive"`
	ItemsToGive    []WireAsset `json:"items_to_give"`
}

type WireAsset struct {
	AssetID string `json:"assetid"`
	Name    string `json:"market_name"`
	AppID   int    `json:"appid"`
}

// Adapt builds the immutable TradeProposal snapshot from a raw wire offer.
// Transport-specific parsing stops here; the decision engine only ever sees
// the domain value.
func Adapt(o Offer, ownerIDs []string) domain.TradeProposal {
	p := domain.TradeProposal{
		ID:      o.ID,
		Partner: o.Partner,
		State:   domain.ProposalState(o.State),
	}
	seen := make(map[int]bool)
	add := func(w WireAsset) domain.Asset {
		if w.AppID != 0 && !seen[w.AppID] {
			seen[w.AppID] = true
			p.Apps = append(p.Apps, w.AppID)
		}
		return domain.Asset{AssetID: w.AssetID, Name: w.Name, AppID: w.AppID}
	}
	for _, w := range o.ItemsToReceive {
		p.ItemsToReceive = append(p.ItemsToReceive, add(w))
	}
	for _, w := range o.ItemsToGive {
		p.ItemsToGive = append(p.ItemsToGive, add(w))
	}
	for _, id := range ownerIDs {
		if id == o.Partner {
			p.FromOwner = true
			break
		}
	}
	return p
}
