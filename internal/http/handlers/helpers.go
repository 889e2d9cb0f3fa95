package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/http/response"
	"github.com/MusicMeister52/hunter2-sub000/internal/services"
)

// parseID accepts a UUID or its compact form from the path. It writes the
// 400 itself.
func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		id, err = types.ParseCompactID(raw)
	}
	if err != nil || id == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_"+param+"_id", errors.New("invalid "+param+" id"))
		return uuid.Nil, false
	}
	return id, true
}

func requestScope(c *gin.Context, rs *repos.Set, clock func() time.Time) (*services.RequestScope, bool) {
	scope, err := services.NewRequestScope(c.Request.Context(), rs)
	if err != nil {
		response.RespondErr(c, err)
		return nil, false
	}
	if clock != nil {
		scope.Now = clock().UTC()
	}
	return scope, true
}
