package processor

import (
	"strings"

	"github.com/Nixie-Tech-LLC/playout/internal/config"
)

// SourceFactory opens the content store backing one fill instance.
type SourceFactory func(instance string, cfg config.FillConfig) (ContentSource, error)

// Build registers every configured instance. Fill instances get their content
// source from sources. Any error is a configuration error.
func Build(file *config.ProcessorFile, sources SourceFactory) (*Registry, error) {
	if err := file.Validate(); err != nil {
		return nil, err
	}
	reg := NewRegistry()
	for _, name := range file.Names() {
		pc := file.Processors[name]
		kind := strings.ToLower(pc.Type)

		var p EventProcessor
		switch kind {
		case config.KindDemo:
			p = Demo{}
		case config.KindFill:
			if err := Ladder(*pc.Fill).Validate(); err != nil {
				return nil, &config.Error{Instance: name, Reason: err.Error()}
			}
			src, err := sources(name, *pc.Fill)
			if err != nil {
				return nil, &config.Error{Instance: name, Reason: "open content source: " + err.Error()}
			}
			if p, err = NewFill(name, *pc.Fill, src); err != nil {
				return nil, err
			}
		case config.KindShow:
			show, err := NewShow(name, *pc.Show)
			if err != nil {
				return nil, err
			}
			p = show
		case config.KindLive:
			live, err := NewLive(name, *pc.Live)
			if err != nil {
				return nil, err
			}
			p = live
		}
		if err := reg.Register(name, kind, p); err != nil {
			return nil, &config.Error{Instance: name, Reason: err.Error()}
		}
	}
	return reg, nil
}
