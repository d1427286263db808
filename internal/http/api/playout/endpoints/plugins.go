package endpoints

import (
	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/playout/internal/catalog"
	"github.com/Nixie-Tech-LLC/playout/internal/http/api"
	"github.com/Nixie-Tech-LLC/playout/internal/http/api/playout/packets"
	"github.com/Nixie-Tech-LLC/playout/internal/playout"
)

type PluginController struct {
	svc *playout.Service
}

// PluginModule exposes the plugin registry, fill catalogs and the device catalog.
func PluginModule(svc *playout.Service) api.Module {
	ctl := &PluginController{svc: svc}
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/plugins", ctl.listPlugins)
		c.GET("/plugins/:name", ctl.getPlugin)

		c.GET("/fill/:instance/videos", ctl.listVideos)
		c.POST("/fill/:instance/videos", ctl.addVideo)

		c.GET("/devices", ctl.listDevices)
	})
}

func (p *PluginController) listPlugins(ctx *gin.Context) (any, *api.Error) {
	list, err := p.svc.Plugins(ctx.Request.Context())
	if err != nil {
		return nil, toAPIError(err, "plugins")
	}
	return list, nil
}

func (p *PluginController) getPlugin(ctx *gin.Context) (any, *api.Error) {
	plugin, err := p.svc.Plugin(ctx.Request.Context(), ctx.Param("name"))
	if err != nil {
		return nil, toAPIError(err, "plugin")
	}
	return plugin, nil
}

func (p *PluginController) listVideos(ctx *gin.Context) (any, *api.Error) {
	list, err := p.svc.FillVideos(ctx.Request.Context(), ctx.Param("instance"))
	if err != nil {
		return nil, toAPIError(err, "fill instance")
	}
	return list, nil
}

func (p *PluginController) addVideo(ctx *gin.Context) (any, *api.Error) {
	var request packets.AddVideoRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, badRequest(err)
	}
	video := request.ToEntry()
	if err := p.svc.AddFillVideo(ctx.Request.Context(), ctx.Param("instance"), video); err != nil {
		return nil, toAPIError(err, "fill instance")
	}
	return video, nil
}

func (p *PluginController) listDevices(ctx *gin.Context) (any, *api.Error) {
	return catalog.DeviceTypes(), nil
}
