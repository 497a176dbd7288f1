package domain

import "time"

// SessionArtifacts is the authentication material required to act on behalf
// of the account. It is replaced as a whole on every renewal; consumers never
// observe a partial update.
type SessionArtifacts struct {
	Cookies      []string  `json:"cookies"`
	RenewalToken string    `json:"renewal_token,omitempty"`
	ValidSince   time.Time `json:"valid_since"`
}

type AuthStatus string

const (
	AuthOK                 AuthStatus = "OK"
	AuthInvalidCredentials AuthStatus = "INVALID_CREDENTIALS"
	AuthSessionExpired     AuthStatus = "SESSION_EXPIRED"
	AuthObstaclePresent    AuthStatus = "OBSTACLE_PRESENT"
	AuthTransientError     AuthStatus = "TRANSIENT_ERROR"
)

type ObstacleKind string

const (
	ObstacleNone       ObstacleKind = ""
	ObstacleFamilyLock ObstacleKind = "FAMILY_LOCK"
)

// AuthResult is the outcome of any authentication backend call. Artifacts is
// set only when Status is AuthOK; Err carries the underlying cause for
// transient failures.
type AuthResult struct {
	Status    AuthStatus
	Artifacts SessionArtifacts
	Obstacle  ObstacleKind
	Err       error
}

// Asset is a single item inside a trade proposal.
type Asset struct {
	AssetID string `json:"asset_id"`
	Name    string `json:"name"`
	AppID   int    `json:"app_id"`
}

type ProposalState string

const (
	ProposalStateActive       ProposalState = "ACTIVE"
	ProposalStateAccepted     ProposalState = "ACCEPTED"
	ProposalStateDeclined     ProposalState = "DECLINED"
	ProposalStateInvalidItems ProposalState = "INVALID_ITEMS"
	ProposalStateCanceled     ProposalState = "CANCELED"
	ProposalStateExpired      ProposalState = "EXPIRED"
)

// TradeProposal is an immutable snapshot of an incoming offer, captured when
// the transport delivered it. The live remote offer may have moved on by the
// time an action runs, so actions must tolerate a no-longer-actionable reply.
type TradeProposal struct {
	ID             string        `json:"id"`
	Partner        string        `json:"partner"`
	ItemsToReceive []Asset       `json:"items_to_receive"`
	ItemsToGive    []Asset       `json:"items_to_give"`
	FromOwner      bool          `json:"from_owner"`
	Apps           []int         `json:"apps"`
	State          ProposalState `json:"state"`
}

// OneSided reports whether only one side of the proposal carries items.
func (p TradeProposal) OneSided() bool {
	return (len(p.ItemsToReceive) == 0) != (len(p.ItemsToGive) == 0)
}

// GiftPattern reports whether the proposal gives us items for nothing.
func (p TradeProposal) GiftPattern() bool {
	return len(p.ItemsToReceive) > 0 && len(p.ItemsToGive) == 0
}

// Glitched reports whether the proposal is internally inconsistent: no items
// on either side, or an item missing its display name. Such offers show up
// when the remote platform is degraded and must not be acted on.
func (p TradeProposal) Glitched() bool {
	if len(p.ItemsToReceive) == 0 && len(p.ItemsToGive) == 0 {
		return true
	}
	for _, a := range p.ItemsToReceive {
		if a.Name == "" {
			return true
		}
	}
	for _, a := range p.ItemsToGive {
		if a.Name == "" {
			return true
		}
	}
	return false
}

type Disposition string

const (
	DispositionAcceptOwner        Disposition = "ACCEPT_OWNER"
	DispositionAcceptGift         Disposition = "ACCEPT_GIFT"
	DispositionProcessMarket      Disposition = "PROCESS_MARKET"
	DispositionIgnore             Disposition = "IGNORE"
	DispositionRejectForeignScope Disposition = "REJECT_FOREIGN_SCOPE"
)

type OutcomeKind string

const (
	OutcomeAccepted OutcomeKind = "ACCEPTED"
	OutcomeDeclined OutcomeKind = "DECLINED"
	OutcomeSkipped  OutcomeKind = "SKIPPED"
	OutcomeFailed   OutcomeKind = "FAILED"
)

// ResolutionOutcome is the terminal result of driving one proposal.
type ResolutionOutcome struct {
	Kind              OutcomeKind `json:"kind"`
	NeedsConfirmation bool        `json:"needs_confirmation,omitempty"`
	Cause             string      `json:"cause,omitempty"`
}

// ResolutionRecord is the durable trace of one resolved proposal.
type ResolutionRecord struct {
	ID          string            `json:"id"`
	OfferID     string            `json:"offer_id"`
	Partner     string            `json:"partner"`
	Disposition Disposition       `json:"disposition"`
	Outcome     ResolutionOutcome `json:"outcome"`
	CreatedAt   time.Time         `json:"created_at"`
}

type EventType string

const (
	EventSessionRenewed    EventType = "SessionRenewed"
	EventSessionDegraded   EventType = "SessionDegraded"
	EventOfferResolved     EventType = "OfferResolved"
	EventOfferStateChanged EventType = "OfferStateChanged"
	EventBotPaused         EventType = "BotPaused"
)

type Event struct {
	ID        string                 `json:"event_id"`
	Type      EventType              `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// OfferSummary is the aggregate offer count snapshot from the status endpoint.
type OfferSummary struct {
	PendingSent     int       `json:"pending_sent_count"`
	PendingReceived int       `json:"pending_received_count"`
	EscrowSent      int       `json:"escrow_sent_count"`
	EscrowReceived  int       `json:"escrow_received_count"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// Account is the persisted account material that survives restarts. The
// renewal token is stored encrypted at rest; see internal/creds.
type Account struct {
	Username     string    `json:"username"`
	Sentry       string    `json:"sentry,omitempty"`
	RenewalToken string    `json:"renewal_token,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
