package processor

import (
	"context"

	"github.com/Nixie-Tech-LLC/playout/internal/catalog"
	"github.com/Nixie-Tech-LLC/playout/internal/model"
)

// Demo appends a single sample video event to the placeholder.
type Demo struct{}

func (Demo) Handle(_ context.Context, event *model.PlaylistEntry) (*model.PlaylistEntry, error) {
	child := event.NewChild()
	child.Duration = 223
	child.Device = "Demo Video Device 1"
	child.DeviceType = catalog.Video
	child.Action = catalog.VideoPlay
	if event.Trigger != nil {
		child.SetTrigger(*event.Trigger)
	}
	child.SetCallback("EventProcessor_Demo::demoPreProcessor")
	child.Description = "Demonstration child event from EP"
	child.SetData("filename", "test1")
	return event, nil
}
