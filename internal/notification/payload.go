package notification

import (
	"encoding/json"
	"fmt"

	"carpool/internal/booking/domain"
)

const (
	DefaultTitle = "New Alert"
	DefaultBody  = "You have a new message."

	ownerURL     = "/my-trips"
	requesterURL = "/rides"
)

// Payload is the JSON body delivered to the service worker.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// TestPayload is sent by SendTest.
var TestPayload = Payload{
	Title: "Hello from Server!",
	Body:  "If you see this, push is working!",
	URL:   requesterURL,
}

// DecodePayload parses a delivered payload. Missing or unparsable fields fall
// back to DefaultTitle and DefaultBody.
func DecodePayload(raw []byte) Payload {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{Title: DefaultTitle, Body: DefaultBody}
	}
	if p.Title == "" {
		p.Title = DefaultTitle
	}
	if p.Body == "" {
		p.Body = DefaultBody
	}
	return p
}

// PayloadFor renders the message the recipient of e sees.
func PayloadFor(e domain.BookingEvent) Payload {
	seats := "1 seat"
	if e.Seats != 1 {
		seats = fmt.Sprintf("%d seats", e.Seats)
	}

	switch e.Kind {
	case domain.EventNewRequest:
		return Payload{Title: "New ride request", Body: fmt.Sprintf("Someone asked for %s on your trip.", seats), URL: ownerURL}
	case domain.EventWithdrawn:
		return Payload{Title: "Request withdrawn", Body: fmt.Sprintf("A request for %s was withdrawn.", seats), URL: ownerURL}
	case domain.EventConfirmed:
		return Payload{Title: "Booking confirmed", Body: fmt.Sprintf("Your request for %s was accepted.", seats), URL: requesterURL}
	case domain.EventDeclined:
		return Payload{Title: "Booking declined", Body: "The driver declined your request.", URL: requesterURL}
	case domain.EventExpired:
		return Payload{Title: "Request expired", Body: "The trip closed before your request was answered.", URL: requesterURL}
	case domain.EventCancelled:
		if e.Recipient() == e.OwnerID {
			return Payload{Title: "Booking cancelled", Body: fmt.Sprintf("A passenger cancelled %s.", seats), URL: ownerURL}
		}
		return Payload{Title: "Booking cancelled", Body: "Your confirmed booking was cancelled.", URL: requesterURL}
	}
	return Payload{Title: DefaultTitle, Body: DefaultBody}
}
