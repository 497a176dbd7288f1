package engine

import "automatic/internal/domain"

// Classifier assigns a disposition to an incoming proposal. Classification is
// a pure priority cascade over the snapshot: earlier rules always win, later
// rules never reconsider. No side effects happen here.
type Classifier struct {
	appID       int
	acceptGifts bool
}

func NewClassifier(appID int, acceptGifts bool) *Classifier {
	return &Classifier{appID: appID, acceptGifts: acceptGifts}
}

func (c *Classifier) Classify(p domain.TradeProposal) domain.Disposition {
	// The owner is always trusted, whatever the item composition.
	if p.FromOwner {
		return domain.DispositionAcceptOwner
	}
	if p.OneSided() {
		if p.GiftPattern() && c.acceptGifts {
			return domain.DispositionAcceptGift
		}
		return domain.DispositionIgnore
	}
	if len(p.Apps) != 1 || p.Apps[0] != c.appID {
		return domain.DispositionRejectForeignScope
	}
	return domain.DispositionProcessMarket
}
