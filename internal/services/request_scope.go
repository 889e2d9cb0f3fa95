package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/apierr"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/ctxutil"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
)

var (
	ErrUnauthenticated = apierr.New(http.StatusUnauthorized, "unauthenticated", errors.New("not signed in"))
	ErrNoTeam          = apierr.New(http.StatusForbidden, "no_team", errors.New("not on a team for this event"))
)

// TeamCache memoizes one user's team per event for the life of a request.
type TeamCache struct {
	memberships repos.MembershipRepo
	userID      uuid.UUID

	mu      sync.Mutex
	byEvent map[uuid.UUID]uuid.UUID
}

func NewTeamCache(memberships repos.MembershipRepo, userID uuid.UUID) *TeamCache {
	return &TeamCache{memberships: memberships, userID: userID, byEvent: map[uuid.UUID]uuid.UUID{}}
}

// TeamFor resolves the user's team in the event; ErrNoTeam when there is none.
func (c *TeamCache) TeamFor(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.byEvent[eventID]; ok {
		return id, nil
	}
	m, err := c.memberships.Get(dbctx.Context{Ctx: ctx}, eventID, c.userID)
	if err != nil {
		return uuid.Nil, err
	}
	if m == nil {
		return uuid.Nil, ErrNoTeam
	}
	c.byEvent[eventID] = m.TeamID
	return m.TeamID, nil
}

// Forget drops the memoized team, after a membership change.
func (c *TeamCache) Forget(eventID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byEvent, eventID)
}

// RequestScope is everything a service call knows about its caller. Handlers
// build one per request with NewRequestScope and pass it down explicitly.
type RequestScope struct {
	UserID   uuid.UUID
	Username string
	IsAdmin  bool
	// Now is the request's clock reading; every rule in one call uses it.
	Now   time.Time
	Teams *TeamCache
}

func NewRequestScope(ctx context.Context, rs *repos.Set) (*RequestScope, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	return &RequestScope{
		UserID:   rd.UserID,
		Username: rd.Username,
		IsAdmin:  rd.IsAdmin,
		Now:      time.Now().UTC(),
		Teams:    NewTeamCache(rs.Memberships, rd.UserID),
	}, nil
}
