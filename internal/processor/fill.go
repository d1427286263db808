package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/playout/internal/catalog"
	"github.com/Nixie-Tech-LLC/playout/internal/config"
	"github.com/Nixie-Tech-LLC/playout/internal/model"
	"github.com/Nixie-Tech-LLC/playout/internal/rotation"
)

// NowNextCallback is the hook the device executor runs to fill in "next" text
// on now/next overlays.
const NowNextCallback = "EventProcessor_Fill::populateCGNowNext"

// ContentSource picks the next clip for a fill slot and records the play.
// A nil entry with a nil error means nothing fits.
type ContentSource interface {
	NextItem(ctx context.Context, typename string, maxDuration int64) (*model.FillEntry, error)
}

type slot struct {
	typeName   string
	device     string
	deviceType int
	action     int
}

// Fill packs a placeholder's duration with rotated clips followed by a
// continuity graphic that runs to the end of the placeholder.
type Fill struct {
	name         string
	src          ContentSource
	structure    []slot
	repeat       bool
	suppress     bool
	offset       int64
	contMin      int64
	contDevice   string
	contGraphic  string
	contCallback string
	contLayer    int
}

func NewFill(name string, cfg config.FillConfig, src ContentSource) (*Fill, error) {
	if src == nil {
		return nil, &config.Error{Instance: name, Reason: "no content source"}
	}
	if len(cfg.Structure) == 0 {
		return nil, &config.Error{Instance: name, Reason: "structure list is empty"}
	}
	if cfg.Continuity.Device == "" || cfg.Continuity.GraphicName == "" {
		return nil, &config.Error{Instance: name, Reason: "continuity device and graphicname are required"}
	}
	if cfg.ItemOffset < 0 || cfg.Continuity.MinimumTime < 0 {
		return nil, &config.Error{Instance: name, Reason: "negative item offset or continuity minimum"}
	}

	f := &Fill{
		name:         name,
		src:          src,
		repeat:       cfg.RepeatToFill,
		suppress:     cfg.SuppressContinuity,
		offset:       int64(cfg.ItemOffset.Seconds()),
		contMin:      int64(cfg.Continuity.MinimumTime.Seconds()),
		contDevice:   cfg.Continuity.Device,
		contGraphic:  cfg.Continuity.GraphicName,
		contCallback: cfg.Continuity.PreProcessor,
		contLayer:    cfg.Continuity.HostLayer,
	}
	for i, item := range cfg.Structure {
		if item.Device == "" {
			return nil, &config.Error{Instance: name, Reason: fmt.Sprintf("structure item %d has no device", i)}
		}
		dt, action := item.DeviceType, item.Action
		if dt == "" {
			dt = "Video"
		}
		if action == "" {
			action = "Play"
		}
		dtCode, actionCode, err := catalog.Resolve(dt, action)
		if err != nil {
			return nil, &config.Error{Instance: name, Reason: fmt.Sprintf("structure item %d: %v", i, err)}
		}
		if catalog.IsProcessor(dtCode) {
			return nil, &config.Error{Instance: name, Reason: fmt.Sprintf("structure item %d targets a processor", i)}
		}
		f.structure = append(f.structure, slot{typeName: item.Type, device: item.Device, deviceType: dtCode, action: actionCode})
	}
	return f, nil
}

// Ladder converts the configured weight points into a rotation ladder.
func Ladder(cfg config.FillConfig) rotation.Ladder {
	out := make(rotation.Ladder, 0, len(cfg.WeightPoints))
	for _, p := range cfg.WeightPoints {
		out = append(out, rotation.Level{Window: p.Time, Weight: p.Weight})
	}
	return out
}

// Handle appends clips and the continuity bracket to the placeholder. Each clip
// occupies its duration plus the item offset, so child durations add up to the
// placeholder's duration exactly.
func (f *Fill) Handle(ctx context.Context, event *model.PlaylistEntry) (*model.PlaylistEntry, error) {
	if event.Trigger == nil {
		return nil, fmt.Errorf("%w: fill %q needs a trigger", ErrMissingData, f.name)
	}
	if event.Duration < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrMissingData)
	}
	singleShot := false
	if v, ok := event.Data("singleshot"); ok {
		singleShot, _ = strconv.ParseBool(strings.TrimSpace(v))
	}

	start := *event.Trigger
	end := start + event.Duration
	running := start
	remaining := event.Duration - f.contMin - f.offset
	produced := 0

	for i := 0; remaining > 0; {
		if i == len(f.structure) {
			if !f.repeat || singleShot {
				break
			}
			i = 0
		}
		s := f.structure[i]
		i++
		item, err := f.src.NextItem(ctx, s.typeName, remaining)
		if err != nil {
			return nil, fmt.Errorf("select content for %q: %w", s.typeName, err)
		}
		if item == nil {
			break
		}
		journalFrom(ctx).record(f.name, item.ID)
		if item.Duration <= 0 || item.Duration > remaining {
			return nil, errors.New("content source returned a clip outside the duration ceiling")
		}

		child := event.NewChild()
		child.SetTrigger(running)
		child.Duration = item.Duration + f.offset
		child.Device = s.device
		child.DeviceType = s.deviceType
		child.Action = s.action
		child.Description = item.Description
		child.SetData("filename", item.Filename)

		running += item.Duration + f.offset
		remaining -= item.Duration + f.offset
		produced++
	}

	if singleShot && produced > 0 && f.suppress {
		log.Debug().Str("processor", f.name).Int("items", produced).Msg("[fill] continuity suppressed")
		return event, nil
	}
	f.bracket(event, running, end)
	log.Debug().Str("processor", f.name).Int("items", produced).Int64("continuity", end-running).
		Msg("[fill] filled placeholder")
	return event, nil
}

func (f *Fill) bracket(event *model.PlaylistEntry, from, to int64) {
	layer := strconv.Itoa(f.contLayer)

	add := event.NewChild()
	add.SetTrigger(from)
	add.Duration = to - from
	add.Device = f.contDevice
	add.DeviceType = catalog.CG
	add.Action = catalog.CGAdd
	add.Description = "Continuity"
	add.SetData("graphicname", f.contGraphic)
	add.SetData("hostlayer", layer)
	if f.contCallback != "" {
		add.SetCallback(f.contCallback)
	}

	remove := event.NewChild()
	remove.SetTrigger(to)
	remove.Device = f.contDevice
	remove.DeviceType = catalog.CG
	remove.Action = catalog.CGRemove
	remove.Description = "Continuity end"
	remove.SetData("hostlayer", layer)
}
