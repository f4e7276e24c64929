package app

import (
	"fmt"
	"strings"
	"time"

	"bookie/internal/util"
	"bookie/pkg/domain"
)

// EventInput is the payload of POST /api/events.
type EventInput struct {
	Title    string
	Date     string
	Time     string
	Category string
	Location string
}

func (a *App) ListEvents() ([]domain.Event, error) {
	events, err := a.store.ListEvents()
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}

// CreateEvent validates in and stores a new event owned by creator.
func (a *App) CreateEvent(creator domain.User, in EventInput) (domain.Event, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Date = strings.TrimSpace(in.Date)
	in.Time = strings.TrimSpace(in.Time)
	in.Category = strings.TrimSpace(in.Category)
	in.Location = strings.TrimSpace(in.Location)
	if in.Title == "" || in.Date == "" || in.Time == "" || in.Category == "" || in.Location == "" {
		return domain.Event{}, ErrEventFieldMissing
	}
	if _, err := time.Parse(time.DateOnly, in.Date); err != nil {
		return domain.Event{}, ErrInvalidEventDate
	}
	if _, err := time.Parse("15:04", in.Time); err != nil {
		return domain.Event{}, ErrInvalidEventTime
	}
	now := a.now()
	ev := domain.Event{
		ID:          util.NewID(),
		Title:       in.Title,
		Date:        in.Date,
		Time:        in.Time,
		Category:    in.Category,
		Location:    in.Location,
		CreatedByID: creator.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveEvent(ev); err != nil {
		return domain.Event{}, fmt.Errorf("save event: %w", err)
	}
	return ev, nil
}

// DeleteEvent removes an event. Only its creator may do so.
func (a *App) DeleteEvent(user domain.User, eventID string) error {
	ev, err := a.getEvent(eventID)
	if err != nil {
		return err
	}
	if ev.CreatedByID != user.ID {
		return ErrNotEventCreator
	}
	if err := a.store.DeleteEvent(eventID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func (a *App) SignupEvent(user domain.User, eventID string) error {
	if _, err := a.getEvent(eventID); err != nil {
		return err
	}
	added, err := a.store.AddAttendee(eventID, user.ID)
	if err != nil {
		return fmt.Errorf("add attendee: %w", err)
	}
	if !added {
		return ErrAlreadySignedUp
	}
	return nil
}

func (a *App) UnsignupEvent(user domain.User, eventID string) error {
	if _, err := a.getEvent(eventID); err != nil {
		return err
	}
	removed, err := a.store.RemoveAttendee(eventID, user.ID)
	if err != nil {
		return fmt.Errorf("remove attendee: %w", err)
	}
	if !removed {
		return ErrNotSignedUp
	}
	return nil
}

func (a *App) EventAttendees(eventID string) ([]domain.PublicUser, error) {
	if _, err := a.getEvent(eventID); err != nil {
		return nil, err
	}
	users, err := a.store.ListAttendees(eventID)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []domain.PublicUser{}
	}
	return users, nil
}

// UserEvents lists the events a user signed up to.
func (a *App) UserEvents(userID string) ([]domain.Event, error) {
	if _, ok, err := a.store.GetUserByID(userID); err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	} else if !ok {
		return nil, ErrUserNotFound
	}
	events, err := a.store.ListEventsByAttendee(userID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}

func (a *App) getEvent(id string) (domain.Event, error) {
	ev, ok, err := a.store.GetEvent(id)
	if err != nil {
		return domain.Event{}, fmt.Errorf("fetch event: %w", err)
	}
	if !ok {
		return domain.Event{}, ErrEventNotFound
	}
	return ev, nil
}
