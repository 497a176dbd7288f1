// Package engine routes transport events to the classifier and resolver. A
// single dispatch loop consumes the ordered event stream, so one proposal's
// events are always handled in arrival order.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"automatic/internal/domain"
	"automatic/internal/transport"
)

// History records resolved proposals and lifecycle events and carries the
// operator pause flag.
type History interface {
	RecordResolution(rec domain.ResolutionRecord) domain.ResolutionRecord
	AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event
	IsPaused() bool
}

// PollSaver persists the transport's opaque poll checkpoint.
type PollSaver interface {
	Save(blob []byte) error
}

// SessionSignal receives the reactive re-auth trigger.
type SessionSignal interface {
	OnSessionInvalidated()
}

// Notifier delivers operator-facing notices. May be nil.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Engine struct {
	classifier *Classifier
	resolver   *Resolver
	history    History
	pollSaver  PollSaver
	session    SessionSignal
	notifier   Notifier
	log        zerolog.Logger
}

func New(classifier *Classifier, resolver *Resolver, history History, pollSaver PollSaver, session SessionSignal, notifier Notifier, log zerolog.Logger) *Engine {
	return &Engine{
		classifier: classifier,
		resolver:   resolver,
		history:    history,
		pollSaver:  pollSaver,
		session:    session,
		notifier:   notifier,
		log:        log.With().Str("component", "engine").Logger(),
	}
}

// Run consumes events until the channel closes or ctx is done.
func (e *Engine) Run(ctx context.Context, events <-chan transport.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, ev transport.Event) {
	switch ev := ev.(type) {
	case transport.OfferArrived:
		e.handleOffer(ctx, ev.Proposal)
	case transport.OfferChanged:
		e.resolver.HandleStateChange(ctx, ev.Proposal, ev.OldState)
		e.history.AppendEvent(domain.EventOfferStateChanged, map[string]interface{}{
			"offer_id":  ev.Proposal.ID,
			"old_state": string(ev.OldState),
			"new_state": string(ev.Proposal.State),
		})
	case transport.PollDataChanged:
		if err := e.pollSaver.Save(ev.Blob); err != nil {
			// In-memory state stays authoritative; a failed checkpoint
			// write costs a re-poll after restart at worst.
			e.log.Warn().Err(err).Msg("could not persist poll state")
		}
	case transport.SessionInvalidated:
		e.log.Warn().Msg("transport reports session invalidated")
		e.session.OnSessionInvalidated()
	default:
		e.log.Error().Msg("unhandled transport event")
	}
}

func (e *Engine) handleOffer(ctx context.Context, p domain.TradeProposal) {
	olog := e.log.With().Str("offer", p.ID).Str("partner", p.Partner).Logger()

	if p.Glitched() {
		olog.Warn().Msg("offer is glitched (platform may be degraded), discarding")
		return
	}
	olog.Info().
		Int("items_to_receive", len(p.ItemsToReceive)).
		Int("items_to_give", len(p.ItemsToGive)).
		Msg("offer received")

	disposition := e.classifier.Classify(p)
	if disposition != domain.DispositionAcceptOwner && e.history.IsPaused() {
		olog.Info().Msg("agent paused, ignoring offer")
		disposition = domain.DispositionIgnore
	}

	outcome := e.resolver.Resolve(ctx, p, disposition)

	rec := e.history.RecordResolution(domain.ResolutionRecord{
		ID:          uuid.NewString(),
		OfferID:     p.ID,
		Partner:     p.Partner,
		Disposition: disposition,
		Outcome:     outcome,
		CreatedAt:   time.Now().UTC(),
	})
	e.history.AppendEvent(domain.EventOfferResolved, map[string]interface{}{
		"resolution_id": rec.ID,
		"offer_id":      p.ID,
		"disposition":   string(disposition),
		"outcome":       string(outcome.Kind),
		"cause":         outcome.Cause,
	})

	if outcome.Kind == domain.OutcomeAccepted && e.notifier != nil {
		text := fmt.Sprintf("Accepted offer %s from %s (%d items in, %d items out).",
			p.ID, p.Partner, len(p.ItemsToReceive), len(p.ItemsToGive))
		if outcome.NeedsConfirmation {
			text += " Awaiting confirmation."
		}
		if err := e.notifier.Notify(ctx, text); err != nil {
			olog.Warn().Err(err).Msg("could not send accept notification")
		}
	}
}
