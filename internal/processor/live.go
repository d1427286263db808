package processor

import (
	"context"
	"fmt"

	"github.com/Nixie-Tech-LLC/playout/internal/catalog"
	"github.com/Nixie-Tech-LLC/playout/internal/config"
	"github.com/Nixie-Tech-LLC/playout/internal/model"
)

// HoldReleaseCallback marks a manual hold that the channel releases when the
// live segment ends.
const HoldReleaseCallback = "Channel::manualHoldRelease"

// Live expands a placeholder into a lead-in fill, a station clock, the live
// source and a manual hold that carries the now/next overlays. The hold is
// released through the shunt engine once the segment really ends.
type Live struct {
	Show
	cgDevice      string
	clockDevice   string
	clockFilename string
	clockLength   int64
	liveFilename  string
}

func NewLive(name string, cfg config.LiveConfig) (*Live, error) {
	show, err := NewShow(name, cfg.ShowConfig)
	if err != nil {
		return nil, err
	}
	if cfg.ClockDevice == "" || cfg.ClockFilename == "" || cfg.LiveFilename == "" {
		return nil, &config.Error{Instance: name, Reason: "clockdevice, clockfilename and livefilename are required"}
	}
	if cfg.ClockDuration < 0 {
		return nil, &config.Error{Instance: name, Reason: "negative clock duration"}
	}
	return &Live{
		Show:          *show,
		cgDevice:      cfg.CGDevice,
		clockDevice:   cfg.ClockDevice,
		clockFilename: cfg.ClockFilename,
		clockLength:   int64(cfg.ClockDuration.Seconds()),
		liveFilename:  cfg.LiveFilename,
	}, nil
}

func (l *Live) Handle(_ context.Context, event *model.PlaylistEntry) (*model.PlaylistEntry, error) {
	if event.Trigger == nil {
		return nil, fmt.Errorf("%w: live %q needs a trigger", ErrMissingData, l.name)
	}
	content := event.Duration
	video := container(event, l.fill, l.fillLength)
	l.content(video, event, l.liveFilename, content)

	clock := event.NewChild()
	clock.SetTrigger(video.TriggerAt() - l.clockLength)
	clock.Device = l.clockDevice
	clock.DeviceType = catalog.Video
	clock.Action = catalog.VideoPlay
	clock.Description = event.Description
	clock.Duration = l.clockLength
	clock.SetData("filename", l.clockFilename)

	hold := event.NewChild()
	hold.Type = model.EventManual
	hold.Processed = model.StateHold
	hold.SetTrigger(video.TriggerAt() + 1)
	hold.Device = l.cgDevice
	hold.DeviceType = catalog.CG
	hold.Action = catalog.CGParent
	hold.Description = event.Description
	hold.Duration = content
	hold.SetCallback(HoldReleaseCallback)

	l.nowNext.attach(hold, video.TriggerAt(), content, event.Description)
	return event, nil
}
