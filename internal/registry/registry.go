// Package registry owns competition rooms: creation with an invite code and a
// frozen question set, lookup, lifecycle transitions, teardown and change
// subscriptions. Every mutation goes through engine.Apply inside one atomic
// store update.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
	"github.com/DoyleJ11/quiz-competition-backend/internal/identity"
	"github.com/DoyleJ11/quiz-competition-backend/internal/questions"
	"github.com/DoyleJ11/quiz-competition-backend/internal/store"
)

// Collection holds one document per room.
const Collection = "rooms"

// Purger removes the data a room owns outside its own document.
type Purger interface {
	Purge(ctx context.Context, roomID string) (int, error)
}

type Registry struct {
	store   store.Store
	pool    questions.Pool
	log     *zap.Logger
	codeLen int
	genCode func(n int) (string, error)
	purgers []Purger

	rngMu sync.Mutex
	rng   *rand.Rand
}

type Option func(*Registry)

func WithCodeLength(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.codeLen = n
		}
	}
}

func WithCodeGenerator(fn func(n int) (string, error)) Option {
	return func(r *Registry) { r.genCode = fn }
}

// WithRand makes question draws reproducible.
func WithRand(rng *rand.Rand) Option {
	return func(r *Registry) { r.rng = rng }
}

func WithPurger(p Purger) Option {
	return func(r *Registry) { r.purgers = append(r.purgers, p) }
}

func New(st store.Store, pool questions.Pool, log *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:   st,
		pool:    pool,
		log:     log,
		codeLen: DefaultCodeLength,
		genCode: GenerateCode,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// translate maps store failures onto the domain taxonomy. Domain errors
// returned from inside an update pass through untouched.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return engine.ErrNotFound
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%w: %v", engine.ErrTransientStore, err)
	}
	return err
}

// CreateRoom draws the questions, picks an invite code and persists the room
// in a single write. Nothing is written if any step fails.
func (r *Registry) CreateRoom(ctx context.Context, p engine.Params, creator identity.User) (engine.Room, error) {
	if err := p.Validate(); err != nil {
		return engine.Room{}, err
	}
	if err := identity.ValidateID(creator.ID); err != nil {
		return engine.Room{}, fmt.Errorf("%w: creator: %v", engine.ErrInvalidParams, err)
	}

	qs, err := r.draw(ctx, p)
	if err != nil {
		return engine.Room{}, err
	}
	code, err := r.uniqueCode(ctx)
	if err != nil {
		return engine.Room{}, err
	}

	doc, err := encodeRoom(engine.NewRoom(p, code, creator.ID, creator.DisplayName, creator.AvatarURL, qs))
	if err != nil {
		return engine.Room{}, err
	}
	snap, err := r.store.Create(ctx, Collection, doc, store.WithServerTime(fieldCreatedAt))
	if err != nil {
		return engine.Room{}, translate(err)
	}
	room, err := decodeRoom(snap)
	if err != nil {
		return engine.Room{}, err
	}
	r.log.Info("room created",
		zap.String("room", room.ID),
		zap.String("code", room.InviteCode),
		zap.String("creator", creator.ID),
		zap.String("difficulty", string(p.Difficulty)),
		zap.Int("questions", len(room.Questions)),
	)
	return room, nil
}

func (r *Registry) draw(ctx context.Context, p engine.Params) ([]engine.Question, error) {
	if r.rng == nil {
		return questions.Draw(ctx, r.pool, p, nil)
	}
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return questions.Draw(ctx, r.pool, p, r.rng)
}

// uniqueCode regenerates while the candidate is held by another waiting room.
// The check is not transactional; a residual collision resolves to the newest
// room on lookup.
func (r *Registry) uniqueCode(ctx context.Context) (string, error) {
	var code string
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		c, err := r.genCode(r.codeLen)
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}
		code = c
		hits, err := r.store.Find(ctx, waitingByCode(c, 1))
		if err != nil {
			return "", translate(err)
		}
		if len(hits) == 0 {
			return code, nil
		}
		r.log.Debug("invite code collision, regenerating", zap.String("code", c), zap.Int("attempt", attempt))
	}
	r.log.Warn("invite code still collides, using it anyway", zap.String("code", code))
	return code, nil
}

func waitingByCode(code string, limit int) store.Query {
	return store.Query{
		Collection: Collection,
		Filters: []store.Filter{
			store.Where(store.P(fieldInviteCode), store.OpEq, code),
			store.Where(store.P(fieldState), store.OpEq, engine.StateWaiting),
		},
		OrderBy: store.P(fieldCreatedAt),
		Desc:    true,
		Limit:   limit,
	}
}

// FindRoomByInviteCode resolves a code to the newest waiting room holding it.
// Rooms that already started are not joinable by code.
func (r *Registry) FindRoomByInviteCode(ctx context.Context, code string) (engine.Room, error) {
	code = NormalizeCode(code)
	if code == "" {
		return engine.Room{}, engine.ErrRoomNotJoinable
	}
	hits, err := r.store.Find(ctx, waitingByCode(code, 1))
	if err != nil {
		return engine.Room{}, translate(err)
	}
	if len(hits) == 0 {
		return engine.Room{}, engine.ErrRoomNotJoinable
	}
	return decodeRoom(hits[0])
}

func (r *Registry) GetRoom(ctx context.Context, roomID string) (engine.Room, error) {
	snap, err := r.store.Get(ctx, Collection, roomID)
	if err != nil {
		return engine.Room{}, translate(err)
	}
	return decodeRoom(snap)
}

// Apply runs cmd against the current room atomically and writes only the
// fields its events touch. The returned room reflects the committed state;
// Closed is set when the command asks for teardown.
func (r *Registry) Apply(ctx context.Context, roomID string, cmd engine.Command) (engine.Room, []engine.Event, error) {
	var (
		events []engine.Event
		closed bool
	)
	snap, err := r.store.Update(ctx, Collection, roomID, func(d store.Doc) ([]store.Patch, error) {
		cur, err := decodeRoom(store.Snapshot{ID: roomID, Exists: true, Data: d})
		if err != nil {
			return nil, err
		}
		evs, next, err := engine.Apply(cur, cmd)
		if err != nil {
			return nil, err
		}
		events, closed = evs, next.Closed
		return patchesFor(evs), nil
	})
	if err != nil {
		return engine.Room{}, nil, translate(err)
	}
	room, err := decodeRoom(snap)
	if err != nil {
		return engine.Room{}, nil, err
	}
	room.Closed = closed
	return room, events, nil
}

// StartRoom moves a waiting room to in_progress. Only the creator may start
// it and only once quorum is met; starting a started room is a no-op.
func (r *Registry) StartRoom(ctx context.Context, roomID, requesterID string) error {
	room, events, err := r.Apply(ctx, roomID, engine.Command{Type: engine.CmdStart, UserID: requesterID})
	if err != nil {
		return err
	}
	if engine.ContainsEvent(events, engine.EvtRoomStarted) {
		r.log.Info("room started",
			zap.String("room", roomID),
			zap.Int("participants", len(room.Participants)),
		)
	}
	return nil
}

// DeleteRoom removes the room and everything it owns. Cleanup of owned data
// is best effort and never blocks the room deletion.
func (r *Registry) DeleteRoom(ctx context.Context, roomID string) error {
	for _, p := range r.purgers {
		n, err := p.Purge(ctx, roomID)
		if err != nil {
			r.log.Warn("room cleanup failed", zap.String("room", roomID), zap.Error(err))
			continue
		}
		r.log.Debug("room data purged", zap.String("room", roomID), zap.Int("documents", n))
	}
	if err := r.store.Delete(ctx, Collection, roomID); err != nil {
		return translate(err)
	}
	r.log.Info("room deleted", zap.String("room", roomID))
	return nil
}

// CloseRoom is the creator's explicit teardown.
func (r *Registry) CloseRoom(ctx context.Context, roomID, requesterID string) error {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.CreatorID != requesterID {
		return engine.ErrPermissionDenied
	}
	return r.DeleteRoom(ctx, roomID)
}

// Update is one delivery of a room subscription. Closed means the room no
// longer exists; it is the last value on the channel.
type Update struct {
	Room   engine.Room
	Closed bool
}

// Subscribe streams the room's current state and then every committed change.
// Slow readers see coalesced updates. The channel closes after a Closed
// update or when ctx is done.
func (r *Registry) Subscribe(ctx context.Context, roomID string) (<-chan Update, error) {
	if _, err := r.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	snaps, err := r.store.WatchDoc(wctx, Collection, roomID)
	if err != nil {
		cancel()
		return nil, translate(err)
	}

	out := make(chan Update)
	go func() {
		defer close(out)
		defer cancel()
		for snap := range snaps {
			u := Update{Closed: !snap.Exists}
			if snap.Exists {
				room, err := decodeRoom(snap)
				if err != nil {
					r.log.Error("undecodable room update", zap.String("room", roomID), zap.Error(err))
					continue
				}
				u.Room = room
			}
			select {
			case out <- u:
			case <-wctx.Done():
				return
			}
			if u.Closed {
				return
			}
		}
	}()
	return out, nil
}
