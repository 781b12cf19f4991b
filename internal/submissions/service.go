// Package submissions validates completion claims and drives the ledger,
// the leaderboard and the realtime notifier for each one.
package submissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/merigil/mythoria-sub000/internal/geofence"
	"github.com/merigil/mythoria-sub000/internal/leaderboard"
	"github.com/merigil/mythoria-sub000/internal/ledger"
	"go.uber.org/zap"
)

// State names a step of the per-request flow.
type State string

const (
	StateReceived           State = "RECEIVED"
	StateSignatureChecked   State = "SIGNATURE_CHECKED"
	StateProximityChecked   State = "PROXIMITY_CHECKED"
	StateLedgerWritten      State = "LEDGER_WRITTEN"
	StateLeaderboardUpdated State = "LEADERBOARD_UPDATED"
	StateNotified           State = "NOTIFIED"
	StateDone               State = "DONE"

	StateRejectedSignature State = "REJECTED_SIGNATURE"
	StateRejectedProximity State = "REJECTED_PROXIMITY"
	StateUnknownTarget     State = "UNKNOWN_TARGET"
	StateFailedPersistence State = "FAILED_PERSISTENCE"
)

const maxIdentifierLength = 190

var (
	errMissingLedger      = errors.New("ledger dependency required")
	errMissingLeaderboard = errors.New("leaderboard dependency required")
	errMissingVerifier    = errors.New("signature verifier dependency required")
)

// Ledger is the durable side of the flow.
type Ledger interface {
	FindTarget(ctx context.Context, targetID string) (ledger.Target, error)
	Append(ctx context.Context, entry ledger.Entry) (ledger.Entry, error)
}

// Leaderboard is the fast ranking store. Crediting an entry it has already
// counted must not change the total.
type Leaderboard interface {
	IncrementAndGet(ctx context.Context, credit leaderboard.Credit) (int64, error)
}

// Notifier fans leaderboard changes out to observers. Implementations must not block.
type Notifier interface {
	Broadcast(event LeaderboardUpdateEvent)
}

// SignatureVerifier authenticates a claim's score and timestamp.
type SignatureVerifier interface {
	Verify(score int64, timestampMillis, providedSignature string) bool
}

// DisplayNameResolver maps player ids to names for notifications.
type DisplayNameResolver interface {
	DisplayName(ctx context.Context, playerID string) string
}

// LeaderboardUpdateEvent is broadcast after every accepted submission.
type LeaderboardUpdateEvent struct {
	PlayerDisplayName  string
	NewCumulativeScore int64
	Message            string
}

// Claim is an untrusted completion claim.
type Claim struct {
	PlayerID        string
	TargetID        string
	Score           int64
	ClaimedLocation geofence.Coordinate
	TimestampMillis string
	Signature       string
}

// Result describes an accepted submission.
type Result struct {
	State          State
	Points         int64
	DistanceMeters float64
	Entry          ledger.Entry
}

// ServiceConfig describes the collaborators of the orchestrator.
type ServiceConfig struct {
	Ledger       Ledger
	Leaderboard  Leaderboard
	Verifier     SignatureVerifier
	Notifier     Notifier
	DisplayNames DisplayNameResolver
	Logger       *zap.Logger
}

// Service runs the submission flow. It holds no per-request state; concurrent
// calls are safe as long as the collaborators are.
type Service struct {
	ledger       Ledger
	leaderboard  Leaderboard
	verifier     SignatureVerifier
	notifier     Notifier
	displayNames DisplayNameResolver
	logger       *zap.Logger
}

// NewService validates dependencies and constructs the orchestrator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Ledger == nil {
		return nil, errMissingLedger
	}
	if cfg.Leaderboard == nil {
		return nil, errMissingLeaderboard
	}
	if cfg.Verifier == nil {
		return nil, errMissingVerifier
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		ledger:       cfg.Ledger,
		leaderboard:  cfg.Leaderboard,
		verifier:     cfg.Verifier,
		notifier:     cfg.Notifier,
		displayNames: cfg.DisplayNames,
		logger:       logger,
	}, nil
}

// Submit validates a claim, records it in the ledger and, when fully valid,
// credits the leaderboard and notifies observers.
//
// Every claim that passes request validation is written to the ledger, rejected
// or not. The ledger write and the leaderboard increment are not atomic: if the
// increment fails the entry stays and reconciliation restores the total.
// Resubmitting an identical claim is counted again.
func (s *Service) Submit(ctx context.Context, claim Claim) (Result, error) {
	claim = normalizeClaim(claim)
	if err := validateClaim(claim); err != nil {
		return Result{}, err
	}
	fields := []zap.Field{
		zap.String("player_id", claim.PlayerID),
		zap.String("target_id", claim.TargetID),
		zap.Int64("score", claim.Score),
	}

	target, err := s.ledger.FindTarget(ctx, claim.TargetID)
	if errors.Is(err, ledger.ErrTargetNotFound) {
		return Result{}, &Error{Kind: KindUnknownTarget, State: StateUnknownTarget, Message: "unknown target", err: err}
	}
	if err != nil {
		s.logger.Error("target lookup failed", append(fields, zap.Error(err))...)
		return Result{}, &Error{Kind: KindStorage, State: StateFailedPersistence, Message: "internal error", err: err}
	}

	signatureValid := s.verifier.Verify(claim.Score, claim.TimestampMillis, claim.Signature)
	proximityValid, distance := geofence.IsWithin(claim.ClaimedLocation, target.Location(), target.ActivationRadiusMeters)

	entry, appendErr := s.ledger.Append(ctx, ledger.Entry{
		PlayerID:          claim.PlayerID,
		TargetID:          claim.TargetID,
		Score:             claim.Score,
		WasSignatureValid: signatureValid,
		WasProximityValid: proximityValid,
		DistanceMeters:    distance,
	})

	if !signatureValid {
		s.logRejection(appendErr, "invalid signature", fields...)
		return Result{}, &Error{Kind: KindSignatureInvalid, State: StateRejectedSignature, Message: "invalid signature"}
	}
	if !proximityValid {
		s.logRejection(appendErr, "too far from target", append(fields, zap.Float64("distance_m", distance))...)
		return Result{}, &Error{
			Kind:           KindProximityInvalid,
			State:          StateRejectedProximity,
			Message:        fmt.Sprintf("you are %.0fm from the target; get within %.0fm and try again", distance, target.ActivationRadiusMeters),
			DistanceMeters: distance,
		}
	}
	if appendErr != nil {
		s.logger.Error("ledger append failed", append(fields, zap.Error(appendErr))...)
		return Result{}, &Error{Kind: KindStorage, State: StateFailedPersistence, Message: "internal error", err: appendErr}
	}

	points, err := s.leaderboard.IncrementAndGet(ctx, leaderboard.Credit{
		EntryID:    entry.EntryID,
		PlayerID:   entry.PlayerID,
		Points:     entry.Score,
		RecordedAt: entry.CreatedAt,
	})
	if err != nil {
		s.logger.Error("leaderboard increment failed after ledger write",
			append(fields, zap.String("entry_id", entry.EntryID), zap.Error(err))...)
		return Result{}, &Error{Kind: KindUnavailable, State: StateLedgerWritten, Message: "internal error", err: err}
	}

	state := StateLeaderboardUpdated
	if s.notify(ctx, claim.PlayerID, points) {
		state = StateNotified
	}
	s.logger.Info("submission accepted", append(fields, zap.Int64("points", points), zap.String("state", string(state)))...)

	return Result{
		State:          StateDone,
		Points:         points,
		DistanceMeters: distance,
		Entry:          entry,
	}, nil
}

func (s *Service) notify(ctx context.Context, playerID string, points int64) bool {
	if s.notifier == nil {
		return false
	}
	name := playerID
	if s.displayNames != nil {
		name = s.displayNames.DisplayName(ctx, playerID)
	}
	s.notifier.Broadcast(LeaderboardUpdateEvent{
		PlayerDisplayName:  name,
		NewCumulativeScore: points,
		Message:            fmt.Sprintf("%s now has %d points", name, points),
	})
	return true
}

func (s *Service) logRejection(appendErr error, reason string, fields ...zap.Field) {
	if appendErr != nil {
		s.logger.Error("ledger append failed for rejected claim", append(fields, zap.String("reason", reason), zap.Error(appendErr))...)
		return
	}
	s.logger.Warn("submission rejected", append(fields, zap.String("reason", reason))...)
}

func normalizeClaim(claim Claim) Claim {
	claim.PlayerID = strings.TrimSpace(claim.PlayerID)
	claim.TargetID = strings.TrimSpace(claim.TargetID)
	claim.TimestampMillis = strings.TrimSpace(claim.TimestampMillis)
	claim.Signature = strings.TrimSpace(claim.Signature)
	return claim
}

func validateClaim(claim Claim) error {
	switch {
	case claim.PlayerID == "" || len(claim.PlayerID) > maxIdentifierLength:
		return malformed("playerId is required")
	case claim.TargetID == "" || len(claim.TargetID) > maxIdentifierLength:
		return malformed("targetId is required")
	case claim.Score < 0:
		return malformed("score must be a non-negative integer")
	case !digitsOnly(claim.TimestampMillis):
		return malformed("timestampMillis must be a decimal millisecond timestamp")
	case !claim.ClaimedLocation.Valid():
		return malformed("claimedLocation must be a valid lat/lon")
	case claim.Signature == "":
		return malformed("signature is required")
	}
	return nil
}

func digitsOnly(value string) bool {
	if value == "" {
		return false
	}
	for _, character := range value {
		if character < '0' || character > '9' {
			return false
		}
	}
	return true
}
