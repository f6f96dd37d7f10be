package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/matchhub/matchhub/internal/domain/session"
	"github.com/matchhub/matchhub/internal/platform/retry"
)

const changeChannel = "session_changed"

const sessionColumns = `id, kind, mode, status, capacity, participants, allow_list,
	skill_min, skill_max, guest_hosted, created_at, updated_at, expires_at,
	matched_at, completed_at, winner_id`

// SessionStore implements session.Store. Every mutation re-reads the row
// FOR UPDATE inside a transaction, runs the same domain guards as the
// in-memory store and writes the result back, so concurrent joins of the
// last slot admit exactly one winner. Serialization and deadlock failures
// are retried with jittered backoff.
type SessionStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger

	mu      sync.Mutex
	subs    map[uuid.UUID]map[int]session.ChangeHandler
	nextSub int

	listenCancel context.CancelFunc
	listenDone   chan struct{}
}

func NewSessionStore(pool *pgxpool.Pool, logger zerolog.Logger) *SessionStore {
	st := &SessionStore{
		pool:   pool,
		logger: logger.With().Str("component", "postgres_store").Logger(),
		subs:   make(map[uuid.UUID]map[int]session.ChangeHandler),
	}
	ctx, cancel := context.WithCancel(context.Background())
	st.listenCancel = cancel
	st.listenDone = make(chan struct{})
	go st.listen(ctx)
	return st
}

func (st *SessionStore) Create(ctx context.Context, s *session.Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = session.StatusWaiting
	}
	if s.Capacity <= 0 {
		s.Capacity = session.DefaultCapacity
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = now.Add(session.DefaultTTL)
	}

	var skillMin, skillMax *int
	if s.SkillWindow != nil {
		skillMin, skillMax = &s.SkillWindow.Min, &s.SkillWindow.Max
	}
	_, err := st.pool.Exec(ctx, `
		INSERT INTO sessions
		(id, kind, mode, status, capacity, participants, allow_list,
		 skill_min, skill_max, guest_hosted, created_at, updated_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, s.ID, s.Kind, s.Mode, s.Status, s.Capacity, s.Participants, s.AllowList,
		skillMin, skillMax, s.GuestHosted, s.CreatedAt, s.UpdatedAt, s.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("session %s already exists: %w", s.ID, session.ErrConflict)
		}
		return storeErr(err)
	}
	return nil
}

func (st *SessionStore) Get(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	row := st.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=$1`, id)
	s, err := scanSession(row)
	if err != nil {
		return nil, storeErr(err)
	}
	return s, nil
}

func (st *SessionStore) Query(ctx context.Context, filter session.QueryFilter) ([]*session.Session, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := st.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE ($1 = '' OR kind = $1)
		  AND ($2 = '' OR mode = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at ASC
		LIMIT $4
	`, string(filter.Kind), filter.Mode, string(filter.Status), limit)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (st *SessionStore) TransactionalJoin(ctx context.Context, id uuid.UUID, p session.ParticipantRef) (*session.Session, error) {
	return st.mutate(ctx, id, func(s *session.Session, now time.Time) error {
		if err := session.ValidateJoin(s, p, now); err != nil {
			return err
		}
		p.JoinedAt = now
		s.Participants = append(s.Participants, p)
		s.UpdatedAt = now
		if len(s.Participants) == s.Capacity {
			if ok, reason := session.CanTransition(s.Status, session.StatusMatched, session.NewTransitionContext(s, session.CauseSecondPlayerJoined)); !ok {
				return fmt.Errorf("%s: %w", reason, session.ErrInvalidTransition)
			}
			s.Status = session.StatusMatched
			s.MatchedAt = &now
		}
		return nil
	})
}

func (st *SessionStore) Transition(ctx context.Context, id uuid.UUID, req session.TransitionRequest) (*session.Session, error) {
	return st.mutate(ctx, id, func(s *session.Session, now time.Time) error {
		if ok, reason := session.CanTransition(s.Status, req.To, session.NewTransitionContext(s, req.Cause)); !ok {
			return fmt.Errorf("%s: %w", reason, session.ErrInvalidTransition)
		}
		if req.Precondition != nil {
			if err := req.Precondition(s.Clone()); err != nil {
				return err
			}
		}
		session.ApplyTransition(s, req, now)
		return nil
	})
}

func (st *SessionStore) RemoveParticipant(ctx context.Context, id uuid.UUID, playerID string, cause session.Cause) (*session.Session, error) {
	return st.mutate(ctx, id, func(s *session.Session, now time.Time) error {
		if s.Status.Terminal() {
			return fmt.Errorf("session already %s: %w", s.Status, session.ErrInvalidTransition)
		}
		if !s.HasParticipant(playerID) {
			return fmt.Errorf("participant %s: %w", playerID, session.ErrNotFound)
		}
		kept := s.Participants[:0:0]
		for _, q := range s.Participants {
			if q.PlayerID != playerID {
				kept = append(kept, q)
			}
		}
		s.Participants = kept

		to := session.DropTarget(s.Status, len(kept))
		if to != s.Status {
			if ok, reason := session.CanTransition(s.Status, to, session.NewTransitionContext(s, cause)); !ok {
				return fmt.Errorf("%s: %w", reason, session.ErrInvalidTransition)
			}
		}
		if s.Status == session.StatusMatched && to == session.StatusWaiting {
			for i := range s.Participants {
				s.Participants[i].Ready = false
			}
			s.MatchedAt = nil
		}
		s.Status = to
		s.UpdatedAt = now
		return nil
	})
}

func (st *SessionStore) SetParticipantReady(ctx context.Context, id uuid.UUID, playerID string) (*session.Session, error) {
	return st.mutate(ctx, id, func(s *session.Session, now time.Time) error {
		if s.Status != session.StatusWaiting && s.Status != session.StatusMatched {
			return fmt.Errorf("cannot ready up in status %s: %w", s.Status, session.ErrInvalidTransition)
		}
		p := s.Participant(playerID)
		if p == nil {
			return fmt.Errorf("participant %s: %w", playerID, session.ErrNotFound)
		}
		p.Ready = true
		s.UpdatedAt = now
		return nil
	})
}

func (st *SessionStore) FindActiveByPlayer(ctx context.Context, playerID string) ([]*session.Session, error) {
	rows, err := st.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status NOT IN ('completed','cancelled','expired','abandoned')
		  AND participants @> jsonb_build_array(jsonb_build_object('playerId', $1::text))
		ORDER BY created_at ASC
	`, playerID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (st *SessionStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*session.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := st.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status IN ('waiting','matched') AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (st *SessionStore) PurgeTerminal(ctx context.Context, before time.Time, statuses []session.Status) (int, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	res, err := st.pool.Exec(ctx, `
		DELETE FROM sessions WHERE status = ANY($1) AND updated_at < $2
	`, names, before)
	if err != nil {
		return 0, storeErr(err)
	}
	return int(res.RowsAffected()), nil
}

func (st *SessionStore) Subscribe(id uuid.UUID, fn session.ChangeHandler) func() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.subs[id] == nil {
		st.subs[id] = make(map[int]session.ChangeHandler)
	}
	token := st.nextSub
	st.nextSub++
	st.subs[id][token] = fn

	return func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if handlers, ok := st.subs[id]; ok {
			delete(handlers, token)
			if len(handlers) == 0 {
				delete(st.subs, id)
			}
		}
	}
}

func (st *SessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := st.pool.Exec(ctx, `DELETE FROM sessions WHERE id=$1`, id)
	if err != nil {
		return storeErr(err)
	}
	if res.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (st *SessionStore) Stats(ctx context.Context) (session.StoreStats, error) {
	var stats session.StoreStats
	err := st.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status NOT IN ('completed','cancelled','expired','abandoned')),
			COUNT(*) FILTER (WHERE status = 'waiting'),
			COALESCE(SUM((
				SELECT COUNT(*) FROM jsonb_array_elements(participants) AS p
				WHERE NOT COALESCE((p->>'isBot')::boolean, false)
			)) FILTER (WHERE status = 'waiting'), 0)
		FROM sessions
	`).Scan(&stats.ActiveSessions, &stats.WaitingSessions, &stats.WaitingPlayers)
	return stats, storeErr(err)
}

func (st *SessionStore) Close() {
	st.listenCancel()
	<-st.listenDone
	st.pool.Close()
}

// mutate runs fn against the row read FOR UPDATE, writes the result back
// and notifies listeners in the same transaction. Lock conflicts retry a
// bounded number of times; domain errors abort immediately.
func (st *SessionStore) mutate(ctx context.Context, id uuid.UUID, fn func(*session.Session, time.Time) error) (*session.Session, error) {
	s, err := retry.Do(ctx, retry.DefaultAttempts, retry.DefaultInitialDelay, func() (*session.Session, error) {
		s, err := st.mutateOnce(ctx, id, fn)
		if err != nil && !retryable(err) {
			return nil, retry.Permanent(err)
		}
		return s, err
	})
	if err != nil {
		return nil, mutateErr(err)
	}
	return s, nil
}

// mutateErr classifies what is left after the bounded retry: a lock
// conflict that persisted through every attempt surfaces as ErrConflict
// so callers treat it as retryable; connection failures surface as
// ErrStoreUnavailable.
func mutateErr(err error) error {
	if retryable(err) {
		return fmt.Errorf("lock conflict persisted after %d attempts: %w", retry.DefaultAttempts, session.ErrConflict)
	}
	return storeErr(err)
}

// storeErr maps connection-level failures onto the error taxonomy so
// the HTTP layer answers 503 rather than 500.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) {
		return fmt.Errorf("postgres unreachable (%v): %w", err, session.ErrStoreUnavailable)
	}
	return err
}

func (st *SessionStore) mutateOnce(ctx context.Context, id uuid.UUID, fn func(*session.Session, time.Time) error) (*session.Session, error) {
	tx, err := st.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=$1 FOR UPDATE`, id)
	s, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := fn(s, now); err != nil {
		return nil, err
	}

	var skillMin, skillMax *int
	if s.SkillWindow != nil {
		skillMin, skillMax = &s.SkillWindow.Min, &s.SkillWindow.Max
	}
	_, err = tx.Exec(ctx, `
		UPDATE sessions SET
			status=$2, participants=$3, allow_list=$4, skill_min=$5, skill_max=$6,
			updated_at=$7, expires_at=$8, matched_at=$9, completed_at=$10, winner_id=$11
		WHERE id=$1
	`, s.ID, s.Status, s.Participants, s.AllowList, skillMin, skillMax,
		s.UpdatedAt, s.ExpiresAt, s.MatchedAt, s.CompletedAt, s.WinnerID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changeChannel, s.ID.String()); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// listen fans LISTEN/NOTIFY payloads out to local subscribers, so a
// change committed by any coordinator instance reaches every stream.
func (st *SessionStore) listen(ctx context.Context) {
	defer close(st.listenDone)
	for {
		if err := st.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			st.logger.Warn().Err(err).Msg("listener reconnecting")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (st *SessionStore) listenOnce(ctx context.Context) error {
	conn, err := st.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `LISTEN `+changeChannel); err != nil {
		return err
	}
	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		id, err := uuid.Parse(notification.Payload)
		if err != nil {
			continue
		}
		st.mu.Lock()
		handlers := make([]session.ChangeHandler, 0, len(st.subs[id]))
		for _, fn := range st.subs[id] {
			handlers = append(handlers, fn)
		}
		st.mu.Unlock()
		if len(handlers) == 0 {
			continue
		}
		s, err := st.Get(ctx, id)
		if err != nil {
			continue
		}
		for _, fn := range handlers {
			fn(s.Clone())
		}
	}
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	var skillMin, skillMax *int
	err := row.Scan(&s.ID, &s.Kind, &s.Mode, &s.Status, &s.Capacity, &s.Participants,
		&s.AllowList, &skillMin, &skillMax, &s.GuestHosted, &s.CreatedAt, &s.UpdatedAt,
		&s.ExpiresAt, &s.MatchedAt, &s.CompletedAt, &s.WinnerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	if skillMin != nil && skillMax != nil {
		s.SkillWindow = &session.SkillWindow{Min: *skillMin, Max: *skillMax}
	}
	return &s, nil
}

func scanSessions(rows pgx.Rows) ([]*session.Session, error) {
	out := make([]*session.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
