package session

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
)

const (
	RequestGuesses = "guesses-plz"
	RequestUnlocks = "unlocks-plz"
	RequestHints   = "hints-plz"
)

// Error texts sent back to the client.
const (
	errNoType      = "no type in message"
	errNoFrom      = `required field "from" is missing`
	errBadFrom     = `invalid value for field "from"`
	errBadType     = "invalid request type"
	errBadJSON     = "invalid message"
	errUnavailable = "request failed"
)

type request struct {
	Type *string         `json:"type"`
	From json.RawMessage `json:"from"`
}

// parseFrom reads a replay cursor: "all" gives nil, otherwise milliseconds
// since the epoch as a number or a numeric string.
func parseFrom(raw json.RawMessage) (*time.Time, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	var ms int64
	switch x := v.(type) {
	case string:
		if strings.EqualFold(strings.TrimSpace(x), "all") {
			return nil, true
		}
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, false
		}
		ms = n
	case float64:
		ms = int64(x)
	default:
		return nil, false
	}
	t := time.UnixMilli(ms).UTC()
	return &t, true
}

// HandleRequest answers one client frame. Malformed requests get an error
// frame; the returned error is for failures of the session itself.
func (s *Session) HandleRequest(ctx context.Context, raw []byte) error {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return s.reply(ctx, realtime.ErrorMessage(errBadJSON))
	}
	if req.Type == nil {
		return s.reply(ctx, realtime.ErrorMessage(errNoType))
	}
	if s.puzzleID == uuid.Nil {
		return s.reply(ctx, realtime.ErrorMessage(errBadType))
	}
	switch *req.Type {
	case RequestGuesses, RequestHints:
		if len(req.From) == 0 {
			return s.reply(ctx, realtime.ErrorMessage(errNoFrom))
		}
		since, ok := parseFrom(req.From)
		if !ok {
			return s.reply(ctx, realtime.ErrorMessage(errBadFrom))
		}
		if *req.Type == RequestGuesses {
			return s.replayGuesses(ctx, since)
		}
		return s.replayHints(ctx, since)
	case RequestUnlocks:
		return s.replayUnlocks(ctx)
	default:
		return s.reply(ctx, realtime.ErrorMessage(errBadType))
	}
}

func (s *Session) reply(ctx context.Context, msg realtime.Message) error {
	return s.enqueue(ctx, msg)
}

func (s *Session) failed(ctx context.Context, what string, err error) error {
	s.log.Warn("replay failed", "request", what, "error", err)
	return s.reply(ctx, realtime.ErrorMessage(errUnavailable))
}

func (s *Session) replayGuesses(ctx context.Context, since *time.Time) error {
	items, err := s.store.Guesses(ctx, s.teamID, s.puzzleID, since)
	if err != nil {
		return s.failed(ctx, RequestGuesses, err)
	}
	typ := realtime.TypeOldGuesses
	if since != nil {
		// The client already holds some guesses; these are new to it.
		typ = realtime.TypeNewGuesses
	}
	if items == nil {
		items = []realtime.GuessContent{}
	}
	msg, err := realtime.NewMessage("", typ, items)
	if err != nil {
		return err
	}
	return s.reply(ctx, msg)
}

func (s *Session) replayUnlocks(ctx context.Context) error {
	items, err := s.store.Unlocks(ctx, s.teamID, s.puzzleID)
	if err != nil {
		return s.failed(ctx, RequestUnlocks, err)
	}
	for _, it := range items {
		msg, err := realtime.NewMessage("", realtime.TypeOldUnlock, it)
		if err != nil {
			return err
		}
		if err := s.reply(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) replayHints(ctx context.Context, since *time.Time) error {
	statuses, err := s.store.HintStatuses(ctx, s.teamID, s.puzzleID)
	if err != nil {
		return s.failed(ctx, RequestHints, err)
	}
	now := s.now()
	sort.SliceStable(statuses, func(i, j int) bool {
		a, b := statuses[i].UnlocksAt, statuses[j].UnlocksAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.Before(*b)
	})
	typ := realtime.TypeOldHint
	if since != nil {
		typ = realtime.TypeNewHint
	}
	for _, st := range statuses {
		if !st.VisibleAt(now) {
			continue
		}
		if since != nil && !st.UnlocksAt.After(*since) {
			continue
		}
		s.scheduler.Claim(st.Hint)
		msg, err := realtime.NewMessage("", typ, realtime.HintFor(st.Hint, *st.UnlocksAt))
		if err != nil {
			return err
		}
		if err := s.reply(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
