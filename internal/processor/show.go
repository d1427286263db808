package processor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Nixie-Tech-LLC/playout/internal/catalog"
	"github.com/Nixie-Tech-LLC/playout/internal/config"
	"github.com/Nixie-Tech-LLC/playout/internal/model"
)

type nowNext struct {
	graphic  string
	layer    int
	min      int64
	period   int64
	duration int64
	device   string
}

func newNowNext(name string, cfg config.NowNextConfig, device string) (nowNext, error) {
	if cfg.Name == "" || device == "" {
		return nowNext{}, &config.Error{Instance: name, Reason: "now/next graphic name and cg device are required"}
	}
	if cfg.Period < time.Second {
		return nowNext{}, &config.Error{Instance: name, Reason: "now/next period must be at least one second"}
	}
	return nowNext{
		graphic:  cfg.Name,
		layer:    cfg.HostLayer,
		min:      int64(cfg.Min.Seconds()),
		period:   int64(cfg.Period.Seconds()),
		duration: int64(cfg.Duration.Seconds()),
		device:   device,
	}, nil
}

// attach adds a CG group to parent holding one now/next overlay per period
// across the content's runtime. Short content gets a single overlay half way
// through. Nothing is added when the content is at or under the minimum.
func (n nowNext) attach(parent *model.PlaylistEntry, contentStart, contentDuration int64, description string) {
	if contentDuration <= n.min {
		return
	}
	first := contentStart + n.period
	if contentDuration*4 < n.period*5 {
		first = contentStart + contentDuration/2
	}
	contentEnd := contentStart + contentDuration
	layer := strconv.Itoa(n.layer)

	group := parent.NewChild()
	group.SetTrigger(first)
	group.Device = n.device
	group.DeviceType = catalog.CG
	group.Action = catalog.CGParent
	group.Description = description
	group.SetData("hostlayer", layer)

	last := first
	for at := first; at < contentEnd; at += n.period {
		overlay := group.NewChild()
		overlay.SetTrigger(at)
		overlay.Duration = n.duration
		overlay.Device = n.device
		overlay.DeviceType = catalog.CG
		overlay.Action = catalog.CGAdd
		overlay.Description = description
		overlay.SetData("hostlayer", layer)
		overlay.SetData("graphicname", n.graphic)
		overlay.SetData("nexttext", "ppfill")
		if description != "" {
			overlay.SetData("nowtext", "Now: "+description)
		}
		overlay.SetCallback(NowNextCallback)
		last = at
	}
	group.Duration = last - first
}

// Show expands a placeholder into a lead-in fill, the programme itself and its
// now/next overlays. The placeholder must carry a filename.
type Show struct {
	name        string
	nowNext     nowNext
	fill        string
	fillLength  int64
	videoDevice string
}

func NewShow(name string, cfg config.ShowConfig) (*Show, error) {
	nn, err := newNowNext(name, cfg.NowNext, cfg.CGDevice)
	if err != nil {
		return nil, err
	}
	if cfg.FillProcessor == "" || cfg.VideoDevice == "" {
		return nil, &config.Error{Instance: name, Reason: "fillprocessor and videodevice are required"}
	}
	if cfg.FillLength < 0 {
		return nil, &config.Error{Instance: name, Reason: "negative fill length"}
	}
	return &Show{
		name:        name,
		nowNext:     nn,
		fill:        cfg.FillProcessor,
		fillLength:  int64(cfg.FillLength.Seconds()),
		videoDevice: cfg.VideoDevice,
	}, nil
}

func (s *Show) Handle(_ context.Context, event *model.PlaylistEntry) (*model.PlaylistEntry, error) {
	filename, ok := event.Data("filename")
	if !ok || filename == "" {
		return nil, fmt.Errorf("%w: show %q needs a filename", ErrMissingData, s.name)
	}
	if event.Trigger == nil {
		return nil, fmt.Errorf("%w: show %q needs a trigger", ErrMissingData, s.name)
	}
	content := event.Duration
	video := container(event, s.fill, s.fillLength)
	s.content(video, event, filename, content)
	s.nowNext.attach(event, video.TriggerAt(), content, event.Description)
	return event, nil
}

func (s *Show) content(video, event *model.PlaylistEntry, filename string, duration int64) {
	video.Device = s.videoDevice
	video.DeviceType = catalog.Video
	video.Action = catalog.VideoPlay
	video.Description = event.Description
	video.Duration = duration
	video.SetData("filename", filename)
}

// container grows the placeholder by the lead-in length, adds the fill
// placeholder for the lead-in and returns the (empty) programme event that
// starts when the lead-in ends.
func container(event *model.PlaylistEntry, fill string, fillLength int64) *model.PlaylistEntry {
	start := *event.Trigger
	event.Duration += fillLength

	lead := event.NewChild()
	lead.SetTrigger(start)
	lead.Device = fill
	lead.DeviceType = catalog.Processor
	lead.Action = catalog.ProcessorProcess
	lead.Description = event.Description
	lead.Duration = fillLength

	video := event.NewChild()
	video.SetTrigger(start + fillLength)
	return video
}
