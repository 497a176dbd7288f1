package engine

import (
	"context"

	"github.com/rs/zerolog"

	"automatic/internal/domain"
	"automatic/internal/transport"
)

// MarketClient is the external buy/sell matching service. Evaluation errors
// abort the market path for this proposal without failing it; the offer
// simply stays untouched on the platform.
type MarketClient interface {
	EvaluateBuy(ctx context.Context, p domain.TradeProposal) (bool, error)
	EvaluateSell(ctx context.Context, p domain.TradeProposal) (bool, error)
	Finalize(ctx context.Context, p domain.TradeProposal) error
}

// Resolver executes the action a disposition implies and reports the terminal
// outcome. Accept and decline calls are never retried: the remote offer may
// already have mutated, and a duplicate accept is worse than a logged miss.
type Resolver struct {
	trade  transport.TradeActions
	market MarketClient
	log    zerolog.Logger
}

func NewResolver(trade transport.TradeActions, market MarketClient, log zerolog.Logger) *Resolver {
	return &Resolver{
		trade:  trade,
		market: market,
		log:    log.With().Str("component", "resolver").Logger(),
	}
}

func (r *Resolver) Resolve(ctx context.Context, p domain.TradeProposal, d domain.Disposition) domain.ResolutionOutcome {
	olog := r.log.With().Str("offer", p.ID).Str("partner", p.Partner).Logger()

	switch d {
	case domain.DispositionAcceptOwner, domain.DispositionAcceptGift:
		status, err := r.trade.Accept(ctx, p.ID)
		if err != nil {
			olog.Warn().Err(err).Str("disposition", string(d)).Msg("could not accept offer")
			return domain.ResolutionOutcome{Kind: domain.OutcomeFailed, Cause: err.Error()}
		}
		pending := status == transport.AcceptPending
		olog.Info().Bool("needs_confirmation", pending).Str("disposition", string(d)).Msg("offer accepted")
		// Owner and gift acceptances are not the market's business: no
		// finalize call for these paths.
		olog.Debug().Msg("skipping market finalize for trusted accept")
		return domain.ResolutionOutcome{Kind: domain.OutcomeAccepted, NeedsConfirmation: pending}

	case domain.DispositionProcessMarket:
		return r.resolveMarket(ctx, p, olog)

	case domain.DispositionRejectForeignScope:
		olog.Info().Msg("offer contains foreign-scope items, skipping")
		return domain.ResolutionOutcome{Kind: domain.OutcomeSkipped, Cause: "foreign scope"}

	case domain.DispositionIgnore:
		olog.Info().Msg("offer ignored")
		return domain.ResolutionOutcome{Kind: domain.OutcomeSkipped, Cause: "ignored"}
	}

	olog.Error().Str("disposition", string(d)).Msg("unknown disposition")
	return domain.ResolutionOutcome{Kind: domain.OutcomeSkipped, Cause: "unknown disposition"}
}

// resolveMarket runs the two-phase market evaluation. Only a full sell-phase
// match leads to accept and exactly one finalize call; everything short of
// that is Skipped, never Failed.
func (r *Resolver) resolveMarket(ctx context.Context, p domain.TradeProposal, olog zerolog.Logger) domain.ResolutionOutcome {
	olog.Debug().Msg("evaluating buy orders")
	buyMatched, err := r.market.EvaluateBuy(ctx, p)
	if err != nil {
		olog.Warn().Err(err).Msg("buy evaluation aborted")
		return domain.ResolutionOutcome{Kind: domain.OutcomeSkipped, Cause: "buy evaluation: " + err.Error()}
	}

	olog.Debug().Bool("buy_matched", buyMatched).Msg("evaluating sell orders")
	sellMatched, err := r.market.EvaluateSell(ctx, p)
	if err != nil {
		olog.Warn().Err(err).Msg("sell evaluation aborted")
		return domain.ResolutionOutcome{Kind: domain.OutcomeSkipped, Cause: "sell evaluation: " + err.Error()}
	}
	if !sellMatched {
		olog.Info().Msg("no full market match, skipping")
		return domain.ResolutionOutcome{Kind: domain.OutcomeSkipped, Cause: "no market match"}
	}

	status, err := r.trade.Accept(ctx, p.ID)
	if err != nil {
		olog.Warn().Err(err).Msg("could not accept matched offer")
		return domain.ResolutionOutcome{Kind: domain.OutcomeFailed, Cause: err.Error()}
	}
	pending := status == transport.AcceptPending

	olog.Debug().Msg("finalizing offer with market")
	if err := r.market.Finalize(ctx, p); err != nil {
		// Acceptance already happened; a failed finalize is bookkeeping
		// lag on the market side, not a failed trade.
		olog.Warn().Err(err).Msg("market finalize failed")
	}
	olog.Info().Bool("needs_confirmation", pending).Msg("matched offer accepted")
	return domain.ResolutionOutcome{Kind: domain.OutcomeAccepted, NeedsConfirmation: pending}
}

// HandleStateChange reacts to a remote state transition reported by the
// transport. An offer that turned invalid gets declined; if the decline
// bounces because the offer already completed, that is informational only.
func (r *Resolver) HandleStateChange(ctx context.Context, p domain.TradeProposal, oldState domain.ProposalState) {
	olog := r.log.With().Str("offer", p.ID).Logger()
	olog.Debug().
		Str("old_state", string(oldState)).
		Str("new_state", string(p.State)).
		Msg("offer state changed")

	if p.State != domain.ProposalStateInvalidItems {
		return
	}
	olog.Info().Msg("offer items turned invalid, declining")
	if err := r.trade.Decline(ctx, p.ID); err != nil {
		olog.Info().Err(err).Msg("offer was no longer declinable (likely already completed)")
		return
	}
	olog.Debug().Msg("offer declined")
}
