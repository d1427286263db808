// Package catalog holds the fixed table of device types and the actions each
// one accepts. Codes are positional: the index of a device type in the table
// is its stored code, and the index of an action within its device type is the
// action code. Reordering the table changes the meaning of stored events.
package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

type ParamKind string

const (
	KindString ParamKind = "string"
	KindInt    ParamKind = "int"
	KindMap    ParamKind = "map"
)

type Action struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamKind `json:"parameters"`
}

type DeviceType struct {
	Name    string   `json:"name"`
	Actions []Action `json:"actions"`
}

// Device type codes.
const (
	Crosspoint = iota
	Video
	CG
	Processor
)

// Action codes, per device type.
const (
	CrosspointSwitch = 0

	VideoPlay       = 0
	VideoLoad       = 1
	VideoPlayLoaded = 2
	VideoStop       = 3

	CGAdd    = 0
	CGPlay   = 1
	CGUpdate = 2
	CGRemove = 3
	CGParent = 4

	ProcessorProcess = 0
)

var table = []DeviceType{
	{
		Name: "Crosspoint",
		Actions: []Action{
			{Name: "Switch", Description: "Switch crosspoint output to connect to a different input",
				Parameters: map[string]ParamKind{"output": KindString, "input": KindString}},
		},
	},
	{
		Name: "Video",
		Actions: []Action{
			{Name: "Play", Description: "Load and play a video file immediately",
				Parameters: map[string]ParamKind{"filename": KindString}},
			{Name: "Load", Description: "Load a video file to be played",
				Parameters: map[string]ParamKind{"filename": KindString}},
			{Name: "Play_Loaded", Description: "Play a video file previously loaded with Load",
				Parameters: map[string]ParamKind{}},
			{Name: "Stop", Description: "Stop playing",
				Parameters: map[string]ParamKind{}},
		},
	},
	{
		Name: "CG",
		Actions: []Action{
			{Name: "Add", Description: "Adds a new CG event",
				Parameters: map[string]ParamKind{"graphicname": KindString, "hostlayer": KindInt, "templatedata": KindMap}},
			{Name: "Play", Description: "Plays template on by one step",
				Parameters: map[string]ParamKind{"hostlayer": KindInt}},
			{Name: "Update", Description: "Replace existing template data with new data",
				Parameters: map[string]ParamKind{"hostlayer": KindInt, "templatedata": KindMap}},
			{Name: "Remove", Description: "Stop template and clear layer",
				Parameters: map[string]ParamKind{"hostlayer": KindInt}},
			{Name: "Parent", Description: "Does nothing - act as a placeholder for child event nesting",
				Parameters: map[string]ParamKind{}},
		},
	},
	{
		Name: "Processor",
		Actions: []Action{
			{Name: "Process", Description: "Run the EventProcessor and replace it with the result",
				Parameters: map[string]ParamKind{}},
		},
	},
}

// Error describes a failed catalog lookup or parameter check.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// DeviceTypes returns a copy of the table in code order.
func DeviceTypes() []DeviceType {
	out := make([]DeviceType, len(table))
	copy(out, table)
	return out
}

func DeviceTypeCode(name string) (int, error) {
	for i, dt := range table {
		if strings.EqualFold(dt.Name, name) {
			return i, nil
		}
	}
	return 0, &Error{Field: "devicetype", Reason: fmt.Sprintf("unknown device type %q", name)}
}

func DeviceTypeName(code int) (string, error) {
	if code < 0 || code >= len(table) {
		return "", &Error{Field: "devicetype", Reason: fmt.Sprintf("unknown device type code %d", code)}
	}
	return table[code].Name, nil
}

func ActionCode(deviceType int, name string) (int, error) {
	if deviceType < 0 || deviceType >= len(table) {
		return 0, &Error{Field: "devicetype", Reason: fmt.Sprintf("unknown device type code %d", deviceType)}
	}
	for i, a := range table[deviceType].Actions {
		if strings.EqualFold(a.Name, name) {
			return i, nil
		}
	}
	return 0, &Error{Field: "action", Reason: fmt.Sprintf("unknown action %q for %s", name, table[deviceType].Name)}
}

func ActionName(deviceType, code int) (string, error) {
	a, err := Lookup(deviceType, code)
	if err != nil {
		return "", err
	}
	return a.Name, nil
}

// Resolve converts a device type name and action name into their codes.
func Resolve(deviceTypeName, actionName string) (int, int, error) {
	dt, err := DeviceTypeCode(deviceTypeName)
	if err != nil {
		return 0, 0, err
	}
	action, err := ActionCode(dt, actionName)
	if err != nil {
		return 0, 0, err
	}
	return dt, action, nil
}

func Lookup(deviceType, action int) (Action, error) {
	if deviceType < 0 || deviceType >= len(table) {
		return Action{}, &Error{Field: "devicetype", Reason: fmt.Sprintf("unknown device type code %d", deviceType)}
	}
	actions := table[deviceType].Actions
	if action < 0 || action >= len(actions) {
		return Action{}, &Error{Field: "action", Reason: fmt.Sprintf("unknown action code %d for %s", action, table[deviceType].Name)}
	}
	return actions[action], nil
}

func IsProcessor(deviceType int) bool {
	return deviceType == Processor
}

// Validate checks that the action exists and that every string and int
// parameter it declares is present in data. Map parameters carry optional
// template data and may be omitted.
func Validate(deviceType, action int, data map[string]string) error {
	a, err := Lookup(deviceType, action)
	if err != nil {
		return err
	}
	for name, kind := range a.Parameters {
		value, ok := data[name]
		switch kind {
		case KindMap:
			continue
		case KindInt:
			if !ok {
				return &Error{Field: name, Reason: "required parameter missing"}
			}
			if _, err := strconv.Atoi(value); err != nil {
				return &Error{Field: name, Reason: "must be an integer"}
			}
		default:
			if !ok {
				return &Error{Field: name, Reason: "required parameter missing"}
			}
		}
	}
	return nil
}
