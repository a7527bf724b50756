package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/winnie192/voice-agent-healthcare/internal/llm"
	"github.com/winnie192/voice-agent-healthcare/internal/storage"
)

// bookingOutcome is what the booking sub-flow hands back to the response
// stage: instruction text for the reply, plus whether a booking was just
// committed.
type bookingOutcome struct {
	instruction string
	confirmed   bool
}

// draftFields converts an extraction into the draft's field mapping,
// dropping empties so the merge never erases known values.
func draftFields(b llm.BookingFields) map[string]string {
	fields := map[string]string{}
	if b.Action != "" {
		fields["action"] = b.Action
	}
	if b.Service != "" {
		fields["service"] = b.Service
	}
	if b.Date != "" {
		fields["date"] = b.Date
	}
	if b.Time != "" {
		fields["time"] = b.Time
	}
	if b.Name != "" {
		fields["name"] = b.Name
	}
	if b.Phone != "" {
		fields["phone"] = b.Phone
	}
	return fields
}

// matchService finds the business service the caller named, by
// case-insensitive substring in either direction.
func matchService(services []storage.Service, name string) *storage.Service {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil
	}
	for i := range services {
		sn := strings.ToLower(services[i].Name)
		if sn == name || strings.Contains(sn, name) || strings.Contains(name, sn) {
			return &services[i]
		}
	}
	return nil
}

// runBooking advances the booking sub-flow for one turn. The extracted
// fields have already been merged into the session draft.
func runBooking(ctx context.Context, sess *Session, store BookingStore) bookingOutcome {
	draft := sess.Draft()

	switch draft["action"] {
	case "info":
		var lines []string
		for _, svc := range sess.Services {
			lines = append(lines, fmt.Sprintf("%s (%d minutes, $%.2f)", svc.Name, svc.DurationMinutes, svc.Price))
		}
		if len(lines) == 0 {
			return bookingOutcome{instruction: "Tell the caller no bookable services are listed right now."}
		}
		return bookingOutcome{instruction: "Describe the available services to the caller: " + strings.Join(lines, "; ") + "."}
	case "cancel":
		return bookingOutcome{instruction: "The caller wants to cancel an appointment. Ask for the name and date of the booking and confirm a staff member will process the cancellation."}
	}

	svc := matchService(sess.Services, draft["service"])
	if svc == nil {
		var names []string
		for _, s := range sess.Services {
			names = append(names, s.Name)
		}
		return bookingOutcome{instruction: "Ask the caller which service they would like to book. Available: " + strings.Join(names, ", ") + "."}
	}

	// Missing fields are requested in a fixed order so the caller is walked
	// through the form one step at a time.
	var missing []string
	if draft["date"] == "" {
		missing = append(missing, "preferred date")
	}
	if draft["time"] == "" {
		missing = append(missing, "preferred time")
	}
	if draft["name"] == "" {
		missing = append(missing, "your name")
	}
	if len(missing) > 0 {
		return bookingOutcome{instruction: fmt.Sprintf(
			"Booking %s in progress. Ask the caller for: %s.", svc.Name, strings.Join(missing, ", "))}
	}

	start, err := time.Parse(time.RFC3339, fmt.Sprintf("%sT%s:00+00:00", draft["date"], draft["time"]))
	if err != nil {
		return bookingOutcome{instruction: "The date or time didn't parse. Ask the caller to restate the preferred date and time."}
	}
	end := start.Add(time.Duration(svc.DurationMinutes) * time.Minute)

	booking, err := store.CreateBooking(ctx, storage.Booking{
		BusinessID:    sess.Business.ID,
		ServiceID:     svc.ID,
		CustomerName:  draft["name"],
		CustomerPhone: sess.CallerID,
		StartTime:     start.Format(time.RFC3339),
		EndTime:       end.Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("agent: booking commit failed: %v", err)
		return bookingOutcome{instruction: "The booking could not be saved. Apologize and offer to try again or take a message."}
	}

	sess.ClearDraft()
	sess.SetCompleted()
	return bookingOutcome{
		instruction: fmt.Sprintf(
			"Booking confirmed (id %s): %s for %s on %s at %s. Tell the caller it is confirmed.",
			booking.ID, svc.Name, draft["name"], draft["date"], draft["time"]),
		confirmed: true,
	}
}
