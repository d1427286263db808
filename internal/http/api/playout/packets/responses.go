package packets

import "github.com/Nixie-Tech-LLC/playout/internal/playout"

type EventResponse = playout.EventView

type PublicEventResponse = playout.PublicView

type DeleteResponse struct {
	EventID int `json:"eventid"`
	Removed int `json:"removed"`
}
