package endpoints

import (
	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/playout/internal/http/api"
	"github.com/Nixie-Tech-LLC/playout/internal/http/api/playout/packets"
	"github.com/Nixie-Tech-LLC/playout/internal/playout"
)

type ToolsController struct {
	svc *playout.Service
}

func ToolsModule(svc *playout.Service) api.Module {
	ctl := &ToolsController{svc: svc}
	return api.ModuleFunc(func(c *api.Controller) {
		c.POST("/tools/release", ctl.release)
		c.POST("/tools/shunt", ctl.shunt)
	})
}

func (t *ToolsController) release(ctx *gin.Context) (any, *api.Error) {
	var request packets.ReleaseRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, badRequest(err)
	}
	res, err := t.svc.Release(ctx.Request.Context(), request.EventID, request.EventEnd.Unix())
	if err != nil {
		return nil, toAPIError(err, "event")
	}
	return res, nil
}

func (t *ToolsController) shunt(ctx *gin.Context) (any, *api.Error) {
	var request packets.ShuntRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, badRequest(err)
	}
	res, err := t.svc.Shunt(ctx.Request.Context(), int64(*request.OriginalEnd), int64(*request.TimePoint))
	if err != nil {
		return nil, toAPIError(err, "schedule")
	}
	return res, nil
}
