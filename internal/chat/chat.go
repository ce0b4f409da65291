// Package chat is the append-only message stream scoped to one room.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/quiz-competition-backend/internal/engine"
	"github.com/DoyleJ11/quiz-competition-backend/internal/identity"
	"github.com/DoyleJ11/quiz-competition-backend/internal/registry"
	"github.com/DoyleJ11/quiz-competition-backend/internal/store"
)

// WindowSize is how many of the most recent messages a reader sees.
const WindowSize = 50

var ErrEmptyMessage = errors.New("empty chat message")

type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

type Channel struct {
	store store.Store
	log   *zap.Logger
}

var _ registry.Purger = (*Channel)(nil)

func New(st store.Store, log *zap.Logger) *Channel {
	return &Channel{store: st, log: log}
}

// Collection names the message sub-collection of a room.
func Collection(roomID string) string {
	return store.Sub(registry.Collection, roomID, "messages")
}

func translate(err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return fmt.Errorf("%w: %v", engine.ErrTransientStore, err)
	}
	return err
}

// CleanText trims and NFC-normalizes user text so visually identical input
// is stored identically.
func CleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Send appends a message. Ordering comes from the store-assigned timestamp,
// not from the order clients send in.
func (c *Channel) Send(ctx context.Context, roomID string, sender identity.User, text string) (Message, error) {
	text = CleanText(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	msg := Message{SenderID: sender.ID, SenderName: CleanText(sender.DisplayName), Text: text}
	doc, err := store.ToDoc(msg)
	if err != nil {
		return Message{}, err
	}
	delete(doc, "id")
	snap, err := c.store.Create(ctx, Collection(roomID), doc, store.WithServerTime("timestamp"))
	if err != nil {
		return Message{}, translate(err)
	}
	return decode(snap)
}

func decode(s store.Snapshot) (Message, error) {
	var m Message
	if err := s.Decode(&m); err != nil {
		return Message{}, fmt.Errorf("decode message %s: %w", s.ID, err)
	}
	m.ID = s.ID
	return m, nil
}

func window(roomID string) store.Query {
	return store.Query{
		Collection: Collection(roomID),
		OrderBy:    store.P("timestamp"),
		Desc:       true,
		Limit:      WindowSize,
	}
}

// oldestFirst decodes a newest-first window and flips it.
func (c *Channel) oldestFirst(roomID string, snaps []store.Snapshot) []Message {
	out := make([]Message, 0, len(snaps))
	for _, s := range snaps {
		m, err := decode(s)
		if err != nil {
			c.log.Warn("skipping undecodable message", zap.String("room", roomID), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	slices.Reverse(out)
	return out
}

// History returns the current window, oldest first.
func (c *Channel) History(ctx context.Context, roomID string) ([]Message, error) {
	snaps, err := c.store.Find(ctx, window(roomID))
	if err != nil {
		return nil, translate(err)
	}
	return c.oldestFirst(roomID, snaps), nil
}

// Subscribe delivers the full window, oldest first, now and after every
// append. The channel closes when ctx is done.
func (c *Channel) Subscribe(ctx context.Context, roomID string) (<-chan []Message, error) {
	snaps, err := c.store.WatchQuery(ctx, window(roomID))
	if err != nil {
		return nil, translate(err)
	}
	out := make(chan []Message)
	go func() {
		defer close(out)
		for s := range snaps {
			select {
			case out <- c.oldestFirst(roomID, s):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Purge deletes every message of the room.
func (c *Channel) Purge(ctx context.Context, roomID string) (int, error) {
	n, err := c.store.DeleteCollection(ctx, Collection(roomID))
	return n, translate(err)
}
