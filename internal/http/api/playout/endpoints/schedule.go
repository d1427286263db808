package endpoints

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/playout/internal/http/api"
	"github.com/Nixie-Tech-LLC/playout/internal/playout"
)

type ScheduleController struct {
	svc *playout.Service
}

func NewScheduleController(svc *playout.Service) *ScheduleController {
	return &ScheduleController{svc: svc}
}

// ScheduleModule serves the public schedule. A /schedule request with an
// explicit start carries the schedule version as an ETag when a cache is
// configured. Clock-relative answers (now, next, the default range) change
// without a schedule write, so they are never tagged.
func ScheduleModule(svc *playout.Service) api.Module {
	ctl := NewScheduleController(svc)
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/schedule", ctl.listSchedule)
		c.GET("/schedule/now", ctl.nowPlaying)
		c.GET("/schedule/next", ctl.nextPlaying)
	})
}

// notModified sets the ETag header and reports whether the client copy is current.
func (s *ScheduleController) notModified(ctx *gin.Context) bool {
	tag, ok := s.svc.ETag(ctx.Request.Context())
	if !ok {
		return false
	}
	ctx.Header("ETag", tag)
	if ctx.GetHeader("If-None-Match") == tag {
		ctx.AbortWithStatus(http.StatusNotModified)
		return true
	}
	return false
}

func optionalTime(ctx *gin.Context, key string) (*int64, *api.Error) {
	raw, ok := ctx.GetQuery(key)
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := playout.ParseTime(raw)
	if err != nil {
		return nil, badRequest(err)
	}
	return &v, nil
}

func (s *ScheduleController) listSchedule(ctx *gin.Context) (any, *api.Error) {
	start, apiErr := optionalTime(ctx, "start")
	if apiErr != nil {
		return nil, apiErr
	}
	end, apiErr := optionalTime(ctx, "end")
	if apiErr != nil {
		return nil, apiErr
	}
	if start != nil && s.notModified(ctx) {
		return nil, nil
	}
	list, err := s.svc.Schedule(ctx.Request.Context(), start, end)
	if err != nil {
		return nil, toAPIError(err, "schedule")
	}
	return playout.PublicList(list), nil
}

// nowPlaying answers 204 when nothing is on air.
func (s *ScheduleController) nowPlaying(ctx *gin.Context) (any, *api.Error) {
	e, err := s.svc.NowPlaying(ctx.Request.Context())
	if err != nil {
		return nil, toAPIError(err, "schedule")
	}
	if e == nil {
		ctx.AbortWithStatus(http.StatusNoContent)
		return nil, nil
	}
	return playout.Public(e), nil
}

func (s *ScheduleController) nextPlaying(ctx *gin.Context) (any, *api.Error) {
	count := 1
	if raw := ctx.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &api.Error{Code: http.StatusBadRequest, Message: "invalid count"}
		}
		count = n
	}
	list, err := s.svc.NextPlaying(ctx.Request.Context(), count)
	if err != nil {
		return nil, toAPIError(err, "schedule")
	}
	return playout.PublicList(list), nil
}
