package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when an event, plugin or fill entry does not exist.
var ErrNotFound = errors.New("not found")

type EventType int

const (
	EventFixed EventType = iota
	EventChild
	EventManual
)

var eventTypeNames = []string{"fixed", "child", "manual"}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventTypeNames) {
		return fmt.Sprintf("EventType(%d)", int(t))
	}
	return eventTypeNames[t]
}

// ParseEventType resolves a type name case-insensitively. An empty name means fixed.
func ParseEventType(name string) (EventType, error) {
	if name == "" {
		return EventFixed, nil
	}
	for i, n := range eventTypeNames {
		if strings.EqualFold(n, name) {
			return EventType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", name)
}

// EventState is the lifecycle state stored in the processed column.
type EventState int

const (
	StateDeleted EventState = iota
	StateReady
	StateDone
	StateHold
)

var eventStateNames = []string{"deleted", "ready", "done", "hold"}

func (s EventState) String() string {
	if s < 0 || int(s) >= len(eventStateNames) {
		return fmt.Sprintf("EventState(%d)", int(s))
	}
	return eventStateNames[s]
}

func ParseEventState(name string) (EventState, error) {
	for i, n := range eventStateNames {
		if strings.EqualFold(n, name) {
			return EventState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event state %q", name)
}

// PlaylistEntry is one node of the event tree. Children are owned by exactly
// one parent; Parent holds the parent's id once the tree has been persisted.
type PlaylistEntry struct {
	ID          int               `db:"id"          json:"eventid"`
	Type        EventType         `db:"type"        json:"type"`
	Trigger     *int64            `db:"trigger"     json:"trigger"`
	Device      string            `db:"device"      json:"devicename"`
	DeviceType  int               `db:"devicetype"  json:"devicetype"`
	Action      int               `db:"action"      json:"action"`
	Duration    int64             `db:"duration"    json:"duration"`
	Parent      *int              `db:"parent"      json:"parentid"`
	Processed   EventState        `db:"processed"   json:"processed"`
	LastUpdate  int64             `db:"lastupdate"  json:"lastupdate"`
	Callback    *string           `db:"callback"    json:"preprocessor,omitempty"`
	Description string            `db:"description" json:"description"`
	EventData   map[string]string `db:"-"           json:"extradata,omitempty"`
	Children    []*PlaylistEntry  `db:"-"           json:"children,omitempty"`

	attached bool
}

// NewChild creates a child owned by e and appends it to e's children.
func (e *PlaylistEntry) NewChild() *PlaylistEntry {
	child := &PlaylistEntry{Type: EventChild, Processed: StateReady, attached: true}
	e.Children = append(e.Children, child)
	return child
}

// AddChild attaches an existing node. A node can only ever have one parent.
func (e *PlaylistEntry) AddChild(child *PlaylistEntry) error {
	if child == nil {
		return errors.New("nil child")
	}
	if child == e {
		return errors.New("event cannot be its own child")
	}
	if child.attached {
		return fmt.Errorf("event %d already has a parent", child.ID)
	}
	child.attached = true
	e.Children = append(e.Children, child)
	return nil
}

// Detach clears the ownership marker so a loaded node can be re-parented.
func (e *PlaylistEntry) Detach() {
	e.attached = false
}

func (e *PlaylistEntry) IsTopLevel() bool {
	return e.Parent == nil && !e.attached
}

func (e *PlaylistEntry) SetTrigger(t int64) {
	e.Trigger = &t
}

// TriggerAt returns the trigger, or zero when it is unset.
func (e *PlaylistEntry) TriggerAt() int64 {
	if e.Trigger == nil {
		return 0
	}
	return *e.Trigger
}

// End is trigger + duration.
func (e *PlaylistEntry) End() int64 {
	return e.TriggerAt() + e.Duration
}

func (e *PlaylistEntry) TriggerTime() time.Time {
	return time.Unix(e.TriggerAt(), 0).UTC()
}

func (e *PlaylistEntry) Data(key string) (string, bool) {
	if e.EventData == nil {
		return "", false
	}
	v, ok := e.EventData[key]
	return v, ok
}

func (e *PlaylistEntry) SetData(key, value string) {
	if e.EventData == nil {
		e.EventData = make(map[string]string)
	}
	e.EventData[key] = value
}

func (e *PlaylistEntry) SetCallback(name string) {
	e.Callback = &name
}

// Walk visits e and every descendant depth-first, parents before children.
func (e *PlaylistEntry) Walk(fn func(node *PlaylistEntry, depth int) error) error {
	return e.walk(fn, 0)
}

func (e *PlaylistEntry) walk(fn func(*PlaylistEntry, int) error, depth int) error {
	if err := fn(e, depth); err != nil {
		return err
	}
	for _, c := range e.Children {
		if err := c.walk(fn, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of nodes in the subtree rooted at e.
func (e *PlaylistEntry) Count() int {
	n := 0
	_ = e.Walk(func(*PlaylistEntry, int) error {
		n++
		return nil
	})
	return n
}

// Clone deep-copies the subtree. The copy is detached from any parent.
func (e *PlaylistEntry) Clone() *PlaylistEntry {
	out := *e
	out.attached = false
	if e.Trigger != nil {
		t := *e.Trigger
		out.Trigger = &t
	}
	if e.Parent != nil {
		p := *e.Parent
		out.Parent = &p
	}
	if e.Callback != nil {
		c := *e.Callback
		out.Callback = &c
	}
	if e.EventData != nil {
		out.EventData = make(map[string]string, len(e.EventData))
		for k, v := range e.EventData {
			out.EventData[k] = v
		}
	}
	out.Children = nil
	for _, c := range e.Children {
		cc := c.Clone()
		cc.attached = true
		out.Children = append(out.Children, cc)
	}
	return &out
}
