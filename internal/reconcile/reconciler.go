package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/merigil/mythoria-sub000/internal/leaderboard"
	"github.com/merigil/mythoria-sub000/internal/ledger"
	"go.uber.org/zap"
)

// DefaultWindow bounds how long a submission may take between its ledger write
// and its leaderboard increment and still be reconciled exactly.
const DefaultWindow = 10 * time.Minute

var (
	errMissingLedger      = errors.New("reconciler: ledger is required")
	errMissingLeaderboard = errors.New("reconciler: leaderboard is required")
)

// TotalsSource yields per-player totals ordered by when each total was reached,
// together with the counted entries recorded at or after since.
type TotalsSource interface {
	ValidTotals(ctx context.Context, since time.Time) (ledger.TotalsSnapshot, error)
}

// RankingWriter atomically replaces the ranking.
type RankingWriter interface {
	Replace(ctx context.Context, snapshot leaderboard.Snapshot) error
}

// Config wires the reconciler. Window defaults to DefaultWindow and Clock to time.Now.
type Config struct {
	Ledger      TotalsSource
	Leaderboard RankingWriter
	Window      time.Duration
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Reconciler rebuilds the leaderboard from the ledger, which is the source of truth.
type Reconciler struct {
	ledger      TotalsSource
	leaderboard RankingWriter
	window      time.Duration
	clock       func() time.Time
	logger      *zap.Logger
	mu          sync.Mutex
}

// New constructs a Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Ledger == nil {
		return nil, errMissingLedger
	}
	if cfg.Leaderboard == nil {
		return nil, errMissingLeaderboard
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		ledger:      cfg.Ledger,
		leaderboard: cfg.Leaderboard,
		window:      window,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Run performs one reconciliation pass and reports how many players were ranked.
// Concurrent calls are serialized.
//
// Submissions keep flowing during a pass. Entries recorded within the window
// travel with the snapshot by id, so the leaderboard counts each of them once
// no matter when its increment lands relative to the pass.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	since := r.clock().Add(-r.window)
	snapshot, err := r.ledger.ValidTotals(ctx, since)
	if err != nil {
		r.logger.Error("reconcile totals failed", zap.Error(err))
		return 0, err
	}
	standings := make([]leaderboard.Standing, 0, len(snapshot.Totals))
	for _, total := range snapshot.Totals {
		standings = append(standings, leaderboard.Standing{PlayerID: total.PlayerID, Score: total.Score})
	}
	recent := make([]leaderboard.Credit, 0, len(snapshot.Recent))
	for _, entry := range snapshot.Recent {
		recent = append(recent, leaderboard.Credit{
			EntryID:    entry.EntryID,
			PlayerID:   entry.PlayerID,
			Points:     entry.Score,
			RecordedAt: entry.CreatedAt,
		})
	}
	err = r.leaderboard.Replace(ctx, leaderboard.Snapshot{Standings: standings, Recent: recent, Since: since})
	if err != nil {
		r.logger.Error("reconcile replace failed", zap.Error(err), zap.Int("players", len(standings)))
		return 0, err
	}
	r.logger.Info("leaderboard reconciled", zap.Int("players", len(standings)), zap.Int("recent_entries", len(recent)))
	return len(standings), nil
}

// Start runs a pass every interval until ctx is cancelled. A non-positive
// interval disables the loop. The returned channel closes when the loop exits.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
					r.logger.Warn("scheduled reconcile failed", zap.Error(err))
				}
			}
		}
	}()
	return done
}
