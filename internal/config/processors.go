package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Error is a malformed processor configuration. It is fatal at startup.
type Error struct {
	Instance string
	Reason   string
}

func (e *Error) Error() string {
	if e.Instance == "" {
		return "processor config: " + e.Reason
	}
	return fmt.Sprintf("processor config %q: %s", e.Instance, e.Reason)
}

// Processor kinds.
const (
	KindDemo = "demo"
	KindFill = "fill"
	KindShow = "show"
	KindLive = "live"
)

type ProcessorFile struct {
	Processors map[string]ProcessorConfig `koanf:"processors"`
}

type ProcessorConfig struct {
	Type string      `koanf:"type"`
	Fill *FillConfig `koanf:"fill"`
	Show *ShowConfig `koanf:"show"`
	Live *LiveConfig `koanf:"live"`
}

type WeightPoint struct {
	Time   time.Duration `koanf:"time"`
	Weight int64         `koanf:"weight"`
}

type StructureItem struct {
	Type       string `koanf:"type"`
	Device     string `koanf:"device"`
	DeviceType string `koanf:"devicetype"`
	Action     string `koanf:"action"`
}

type ContinuityConfig struct {
	Device       string        `koanf:"device"`
	GraphicName  string        `koanf:"graphicname"`
	PreProcessor string        `koanf:"preprocessor"`
	HostLayer    int           `koanf:"hostlayer"`
	MinimumTime  time.Duration `koanf:"minimumtime"`
}

type FillConfig struct {
	WeightPoints       []WeightPoint    `koanf:"weightpoints"`
	FileWeight         int              `koanf:"fileweight"`
	RepeatToFill       bool             `koanf:"repeattofill"`
	SuppressContinuity bool             `koanf:"suppresscontinuity"`
	ItemOffset         time.Duration    `koanf:"itemoffset"`
	Continuity         ContinuityConfig `koanf:"continuity"`
	Structure          []StructureItem  `koanf:"structure"`
}

type NowNextConfig struct {
	Name      string        `koanf:"name"`
	HostLayer int           `koanf:"hostlayer"`
	Min       time.Duration `koanf:"min"`
	Period    time.Duration `koanf:"period"`
	Duration  time.Duration `koanf:"duration"`
}

type ShowConfig struct {
	NowNext       NowNextConfig `koanf:"nownext"`
	FillProcessor string        `koanf:"fillprocessor"`
	FillLength    time.Duration `koanf:"filllength"`
	VideoDevice   string        `koanf:"videodevice"`
	CGDevice      string        `koanf:"cgdevice"`
}

type LiveConfig struct {
	ShowConfig    `koanf:",squash"`
	ClockDevice   string        `koanf:"clockdevice"`
	ClockFilename string        `koanf:"clockfilename"`
	ClockDuration time.Duration `koanf:"clockduration"`
	LiveFilename  string        `koanf:"livefilename"`
}

// LoadProcessors reads the processor instance file. Values may be overridden
// with PLAYOUT_ environment variables, e.g. PLAYOUT_PROCESSORS__FILL1__FILL__FILEWEIGHT=2.
func LoadProcessors(path string) (*ProcessorFile, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, &Error{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}
	if err := k.Load(env.Provider("PLAYOUT_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "PLAYOUT_")), "__", ".")
	}), nil); err != nil {
		return nil, &Error{Reason: fmt.Sprintf("read environment: %v", err)}
	}
	var out ProcessorFile
	if err := k.Unmarshal("", &out); err != nil {
		return nil, &Error{Reason: fmt.Sprintf("decode %s: %v", path, err)}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Names returns instance names in a stable order.
func (f *ProcessorFile) Names() []string {
	names := make([]string, 0, len(f.Processors))
	for n := range f.Processors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks each instance has the block its type needs and that
// references to fill instances resolve.
func (f *ProcessorFile) Validate() error {
	if len(f.Processors) == 0 {
		return &Error{Reason: "no processors configured"}
	}
	for _, name := range f.Names() {
		p := f.Processors[name]
		switch strings.ToLower(p.Type) {
		case KindDemo:
		case KindFill:
			if p.Fill == nil {
				return &Error{Instance: name, Reason: "fill block missing"}
			}
			if len(p.Fill.Structure) == 0 {
				return &Error{Instance: name, Reason: "structure list is empty"}
			}
			if len(p.Fill.WeightPoints) == 0 {
				return &Error{Instance: name, Reason: "weightpoints list is empty"}
			}
		case KindShow:
			if p.Show == nil {
				return &Error{Instance: name, Reason: "show block missing"}
			}
			if err := f.checkFillRef(name, p.Show.FillProcessor); err != nil {
				return err
			}
		case KindLive:
			if p.Live == nil {
				return &Error{Instance: name, Reason: "live block missing"}
			}
			if err := f.checkFillRef(name, p.Live.FillProcessor); err != nil {
				return err
			}
		default:
			return &Error{Instance: name, Reason: fmt.Sprintf("unknown processor type %q", p.Type)}
		}
	}
	return nil
}

func (f *ProcessorFile) checkFillRef(name, ref string) error {
	target, ok := f.Processors[ref]
	if !ok {
		return &Error{Instance: name, Reason: fmt.Sprintf("fill processor %q is not configured", ref)}
	}
	if !strings.EqualFold(target.Type, KindFill) {
		return &Error{Instance: name, Reason: fmt.Sprintf("processor %q is not a fill processor", ref)}
	}
	return nil
}
