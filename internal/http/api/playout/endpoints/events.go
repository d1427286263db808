package endpoints

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/playout/internal/http/api"
	"github.com/Nixie-Tech-LLC/playout/internal/http/api/playout/packets"
	"github.com/Nixie-Tech-LLC/playout/internal/playout"
)

type EventController struct {
	svc *playout.Service
}

func NewEventController(svc *playout.Service) *EventController {
	return &EventController{svc: svc}
}

func EventsModule(svc *playout.Service) api.Module {
	ctl := NewEventController(svc)
	return api.ModuleFunc(func(c *api.Controller) {
		c.POST("/events", ctl.createEvent)
		c.PUT("/events", ctl.updateEvent)
		c.GET("/events/:id", ctl.getEvent)
		c.DELETE("/events/:id", ctl.deleteEvent)
	})
}

func eventID(ctx *gin.Context) (int, *api.Error) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil || id <= 0 {
		return 0, &api.Error{Code: http.StatusBadRequest, Message: "invalid event id"}
	}
	return id, nil
}

func (e *EventController) createEvent(ctx *gin.Context) (any, *api.Error) {
	var request packets.EventRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, badRequest(err)
	}
	entry, err := request.ToEntry()
	if err != nil {
		return nil, toAPIError(err, "event")
	}
	created, err := e.svc.Create(ctx.Request.Context(), entry)
	if err != nil {
		return nil, toAPIError(err, "event")
	}
	return playout.View(created), nil
}

func (e *EventController) updateEvent(ctx *gin.Context) (any, *api.Error) {
	var request packets.EventRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, badRequest(err)
	}
	if request.EventID <= 0 {
		return nil, &api.Error{Code: http.StatusBadRequest, Message: "eventid is required"}
	}
	request.Children = nil
	entry, err := request.ToEntry()
	if err != nil {
		return nil, toAPIError(err, "event")
	}
	updated, err := e.svc.Update(ctx.Request.Context(), entry)
	if err != nil {
		return nil, toAPIError(err, "event")
	}
	return playout.View(updated), nil
}

func (e *EventController) getEvent(ctx *gin.Context) (any, *api.Error) {
	id, apiErr := eventID(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	tree, err := e.svc.Get(ctx.Request.Context(), id)
	if err != nil {
		return nil, toAPIError(err, "event")
	}
	return playout.View(tree), nil
}

func (e *EventController) deleteEvent(ctx *gin.Context) (any, *api.Error) {
	id, apiErr := eventID(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	n, err := e.svc.Delete(ctx.Request.Context(), id)
	if err != nil {
		return nil, toAPIError(err, "event")
	}
	return packets.DeleteResponse{EventID: id, Removed: n}, nil
}
