package rating

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/gameroom/internal/game"
	"github.com/jason-s-yu/gameroom/internal/models"
	"github.com/sirupsen/logrus"
)

// Publisher hands finished matches to the history pipeline.
type Publisher interface {
	Publish(ctx context.Context, record models.MatchResult) error
}

// UserStore loads and persists 1v1 ratings.
type UserStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	Commit1v1MatchResults(ctx context.Context, matchID uuid.UUID, before, after [2]models.User) error
}

// Recorder is the game.ResultReporter used by the server. It queues every reported match for
// the historian and, when both seats belong to distinct accounts, applies a Glicko-2 update.
// Either dependency may be nil.
type Recorder struct {
	queue Publisher
	users UserStore
	log   *logrus.Entry
	now   func() time.Time

	// queued holds matches already published whose rating has not yet committed.
	mu     sync.Mutex
	queued map[uuid.UUID]struct{}
}

func NewRecorder(queue Publisher, users UserStore, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{
		queue:  queue,
		users:  users,
		log:    logger.WithField("component", "rating"),
		now:    time.Now,
		queued: make(map[uuid.UUID]struct{}),
	}
}

// ReportResult implements game.ResultReporter. The first failure is returned so the room can
// tell the reporting player; a failed report may be retried. Retries carry the same match id,
// so a match is queued once and rated once.
func (r *Recorder) ReportResult(ctx context.Context, res game.MatchResult) error {
	id := res.MatchID
	if id == uuid.Nil {
		id = uuid.New()
	}
	record := models.MatchResult{
		ID:             id,
		RoomKey:        res.RoomKey,
		GameType:       string(res.Kind),
		WinnerPlayerID: res.Winner.PlayerID,
		WinnerUserID:   res.Winner.UserID,
		LoserPlayerID:  res.Loser.PlayerID,
		LoserUserID:    res.Loser.UserID,
		IsDraw:         res.Draw,
		FinishedAt:     r.now().UTC(),
	}

	if r.queue != nil && !r.wasQueued(id) {
		if err := r.queue.Publish(ctx, record); err != nil {
			return fmt.Errorf("queue match result: %w", err)
		}
		r.markQueued(id, true)
	}

	if r.users == nil || !rated(res) {
		r.markQueued(id, false)
		r.log.Debugf("recorded unrated %s match %s", res.Kind, id)
		return nil
	}
	if err := r.rate(ctx, id, res); err != nil {
		return err
	}
	r.markQueued(id, false)
	return nil
}

func (r *Recorder) wasQueued(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.queued[id]
	return ok
}

func (r *Recorder) markQueued(id uuid.UUID, pending bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pending {
		r.queued[id] = struct{}{}
	} else {
		delete(r.queued, id)
	}
}

// rated reports whether both seats are distinct accounts.
func rated(res game.MatchResult) bool {
	w, l := res.Winner.UserID, res.Loser.UserID
	return w != uuid.Nil && l != uuid.Nil && w != l
}

func (r *Recorder) rate(ctx context.Context, matchID uuid.UUID, res game.MatchResult) error {
	winner, err := r.users.GetUserByID(ctx, res.Winner.UserID)
	if err != nil {
		return fmt.Errorf("load winner rating: %w", err)
	}
	loser, err := r.users.GetUserByID(ctx, res.Loser.UserID)
	if err != nil {
		return fmt.Errorf("load loser rating: %w", err)
	}

	var newW, newL models.User
	if res.Draw {
		newW, newL = UpdateDraw(*winner, *loser)
	} else {
		newW, newL = Update1v1(*winner, *loser)
	}

	before := [2]models.User{*winner, *loser}
	after := [2]models.User{newW, newL}
	if err := r.users.Commit1v1MatchResults(ctx, matchID, before, after); err != nil {
		return err
	}
	r.log.Infof("rated %s match %s: %s %d->%d, %s %d->%d", res.Kind, matchID,
		winner.Username, winner.Elo1v1, newW.Elo1v1, loser.Username, loser.Elo1v1, newL.Elo1v1)
	return nil
}
