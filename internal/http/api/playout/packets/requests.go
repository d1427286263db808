package packets

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/Nixie-Tech-LLC/playout/internal/catalog"
	"github.com/Nixie-Tech-LLC/playout/internal/model"
	"github.com/Nixie-Tech-LLC/playout/internal/playout"
)

// Timestamp decodes either unix seconds or an ISO 8601 string.
type Timestamp int64

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	v, err := playout.ParseTime(s)
	if err != nil {
		return err
	}
	*t = Timestamp(v)
	return nil
}

func (t *Timestamp) Unix() *int64 {
	if t == nil {
		return nil
	}
	v := int64(*t)
	return &v
}

// EventRequest is an event tree as posted by clients. Device types and
// actions are given by name.
type EventRequest struct {
	EventID      int               `json:"eventid"`
	Time         *Timestamp        `json:"time"`
	Type         string            `json:"type"`
	DeviceName   string            `json:"devicename"`
	DeviceType   string            `json:"devicetype" binding:"required"`
	Action       string            `json:"action"     binding:"required"`
	Duration     int64             `json:"duration"`
	Description  string            `json:"description"`
	Preprocessor *string           `json:"preprocessor"`
	State        string            `json:"processed"`
	ExtraData    map[string]string `json:"extradata"`
	Children     []EventRequest    `json:"children"`
}

// ToEntry resolves names into catalog codes and builds the tree.
func (r *EventRequest) ToEntry() (*model.PlaylistEntry, error) {
	dt, action, err := catalog.Resolve(r.DeviceType, r.Action)
	if err != nil {
		var ce *catalog.Error
		if errors.As(err, &ce) {
			return nil, &playout.ValidationError{Field: ce.Field, Reason: ce.Reason}
		}
		return nil, err
	}
	typ, err := model.ParseEventType(r.Type)
	if err != nil {
		return nil, &playout.ValidationError{Field: "type", Reason: err.Error()}
	}
	state := model.StateReady
	if r.State != "" {
		if state, err = parseState(r.State); err != nil {
			return nil, err
		}
	}

	e := &model.PlaylistEntry{
		ID:          r.EventID,
		Type:        typ,
		Trigger:     r.Time.Unix(),
		Device:      r.DeviceName,
		DeviceType:  dt,
		Action:      action,
		Duration:    r.Duration,
		Processed:   state,
		Callback:    r.Preprocessor,
		Description: r.Description,
	}
	if r.ExtraData != nil {
		e.EventData = make(map[string]string, len(r.ExtraData))
		for k, v := range r.ExtraData {
			e.EventData[k] = v
		}
	}
	for i := range r.Children {
		child, err := r.Children[i].ToEntry()
		if err != nil {
			return nil, err
		}
		if err := e.AddChild(child); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// parseState accepts a state name or its numeric code.
func parseState(s string) (model.EventState, error) {
	if n, err := strconv.Atoi(s); err == nil {
		st := model.EventState(n)
		if st >= model.StateDeleted && st <= model.StateHold {
			return st, nil
		}
	}
	st, err := model.ParseEventState(s)
	if err != nil {
		return 0, &playout.ValidationError{Field: "processed", Reason: err.Error()}
	}
	return st, nil
}

type ReleaseRequest struct {
	EventID  int        `json:"eventid"  binding:"required"`
	EventEnd *Timestamp `json:"eventend"`
}

// ShuntRequest moves everything scheduled from OriginalEnd to start at TimePoint.
type ShuntRequest struct {
	TimePoint   *Timestamp `json:"timepoint"   binding:"required"`
	OriginalEnd *Timestamp `json:"originalend" binding:"required"`
}

type AddVideoRequest struct {
	Filename    string `json:"filename"    binding:"required"`
	Duration    int64  `json:"duration"    binding:"required"`
	Description string `json:"description"`
	TypeName    string `json:"typename"`
	DeviceName  string `json:"devicename"`
	Weight      int    `json:"weight"`
}

func (r *AddVideoRequest) ToEntry() *model.FillEntry {
	return &model.FillEntry{
		Duration:    r.Duration,
		Filename:    r.Filename,
		Description: r.Description,
		TypeName:    r.TypeName,
		Device:      r.DeviceName,
		Weight:      r.Weight,
	}
}
