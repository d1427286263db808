package playout

import (
	"strconv"
	"strings"
	"time"

	"github.com/Nixie-Tech-LLC/playout/internal/catalog"
	"github.com/Nixie-Tech-LLC/playout/internal/model"
)

// isoLayout matches the timestamps clients already parse: UTC, no zone suffix.
const isoLayout = "2006-01-02T15:04:05"

// EventView is the full serialized form of an event tree.
type EventView struct {
	EventID      int               `json:"eventid"`
	Time         *string           `json:"time"`
	Trigger      *int64            `json:"trigger"`
	DeviceName   string            `json:"devicename"`
	DeviceType   string            `json:"devicetype"`
	Action       string            `json:"action"`
	Description  string            `json:"description"`
	Duration     int64             `json:"duration"`
	ParentID     *int              `json:"parentid"`
	Type         string            `json:"type"`
	State        string            `json:"processed"`
	Preprocessor *string           `json:"preprocessor"`
	ExtraData    map[string]string `json:"extradata"`
	Children     []EventView       `json:"children"`
}

// PublicView is the schedule projection shown to viewers.
type PublicView struct {
	EventID     int     `json:"eventid"`
	Time        *string `json:"time"`
	Description string  `json:"description"`
	Duration    int64   `json:"duration"`
}

func isoTime(trigger *int64) *string {
	if trigger == nil {
		return nil
	}
	s := time.Unix(*trigger, 0).UTC().Format(isoLayout)
	return &s
}

func View(e *model.PlaylistEntry) EventView {
	dt, err := catalog.DeviceTypeName(e.DeviceType)
	if err != nil {
		dt = strconv.Itoa(e.DeviceType)
	}
	action, err := catalog.ActionName(e.DeviceType, e.Action)
	if err != nil {
		action = strconv.Itoa(e.Action)
	}
	data := e.EventData
	if data == nil {
		data = map[string]string{}
	}
	v := EventView{
		EventID:      e.ID,
		Time:         isoTime(e.Trigger),
		Trigger:      e.Trigger,
		DeviceName:   e.Device,
		DeviceType:   dt,
		Action:       action,
		Description:  e.Description,
		Duration:     e.Duration,
		ParentID:     e.Parent,
		Type:         e.Type.String(),
		State:        e.Processed.String(),
		Preprocessor: e.Callback,
		ExtraData:    data,
		Children:     make([]EventView, 0, len(e.Children)),
	}
	for _, c := range e.Children {
		v.Children = append(v.Children, View(c))
	}
	return v
}

func Public(e *model.PlaylistEntry) PublicView {
	return PublicView{
		EventID:     e.ID,
		Time:        isoTime(e.Trigger),
		Description: e.Description,
		Duration:    e.Duration,
	}
}

func PublicList(entries []model.PlaylistEntry) []PublicView {
	out := make([]PublicView, 0, len(entries))
	for i := range entries {
		out = append(out, Public(&entries[i]))
	}
	return out
}

// ParseTime accepts unix seconds or an ISO 8601 timestamp. Timestamps
// without a zone are taken as UTC.
func ParseTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, invalid("time", "empty timestamp")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	for _, layout := range []string{time.RFC3339Nano, isoLayout, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, invalid("time", "unable to parse timestamp %q", s)
}
