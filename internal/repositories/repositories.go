// Package repositories provides typed accessors for each entity collection.
// Repositories shape records and check field presence; they hold no sync logic.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/records"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/storage"
)

var errMissingAdapter = errors.New("storage adapter is required")

// Set bundles one repository per entity kind over a shared adapter.
type Set struct {
	Profiles  *Profiles
	Money     *Money
	Notes     *Notes
	Health    *Health
	Community *Community
	Reminders *Reminders
	SOS       *SOS
}

// New builds every repository over adapter.
func New(adapter *storage.Adapter) (*Set, error) {
	if adapter == nil {
		return nil, errMissingAdapter
	}
	return &Set{
		Profiles:  &Profiles{adapter: adapter},
		Money:     &Money{adapter: adapter},
		Notes:     &Notes{adapter: adapter},
		Health:    &Health{adapter: adapter},
		Community: &Community{adapter: adapter},
		Reminders: &Reminders{adapter: adapter},
		SOS:       &SOS{adapter: adapter},
	}, nil
}

type Profiles struct {
	adapter *storage.Adapter
}

// Get returns the singleton profile, or nil when none has been set.
func (r *Profiles) Get(ctx context.Context) (*records.DriverProfile, error) {
	profiles, err := storage.ReadAll[records.DriverProfile](ctx, r.adapter, records.CollectionProfile.String())
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	profile := profiles[0]
	return &profile, nil
}

// Add inserts the singleton profile. A second insert fails with storage.ErrWriteRejected.
func (r *Profiles) Add(ctx context.Context, profile records.DriverProfile) (records.DriverProfile, error) {
	profile.ID = records.ProfileID
	profile.Name = strings.TrimSpace(profile.Name)
	profile.CreatedAt = profile.CreatedAt.UTC()
	if err := profile.Validate(); err != nil {
		return records.DriverProfile{}, err
	}
	if err := r.adapter.Insert(ctx, records.CollectionProfile.String(), &profile); err != nil {
		return records.DriverProfile{}, err
	}
	return profile, nil
}

// Rename updates the name on the existing profile.
func (r *Profiles) Rename(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := (records.DriverProfile{ID: records.ProfileID, Name: name}).Validate(); err != nil {
		return err
	}
	return r.adapter.Update(ctx, records.CollectionProfile.String(), records.ProfileID, map[string]any{"name": name})
}

// Money stores earnings and expenses, which share one record shape.
type Money struct {
	adapter *storage.Adapter
}

func (r *Money) Add(ctx context.Context, collection records.Collection, entry records.MoneyEntry) (records.MoneyEntry, error) {
	if err := requireMoneyCollection(collection); err != nil {
		return records.MoneyEntry{}, err
	}
	entry.Category = strings.TrimSpace(entry.Category)
	entry.RecordedOn = entry.RecordedOn.UTC()
	if err := entry.Validate(); err != nil {
		return records.MoneyEntry{}, err
	}
	if err := r.adapter.Insert(ctx, collection.String(), &entry); err != nil {
		return records.MoneyEntry{}, err
	}
	return entry, nil
}

func (r *Money) All(ctx context.Context, collection records.Collection) ([]records.MoneyEntry, error) {
	if err := requireMoneyCollection(collection); err != nil {
		return nil, err
	}
	return storage.ReadAll[records.MoneyEntry](ctx, r.adapter, collection.String())
}

func requireMoneyCollection(collection records.Collection) error {
	if collection != records.CollectionEarnings && collection != records.CollectionExpenses {
		return fmt.Errorf("%w: %s is not a money collection", records.ErrInvalidRecord, collection)
	}
	return nil
}

type Notes struct {
	adapter *storage.Adapter
}

func (r *Notes) Add(ctx context.Context, note records.Note) (records.Note, error) {
	note.Title = strings.TrimSpace(note.Title)
	note.CreatedAt = note.CreatedAt.UTC()
	if err := note.Validate(); err != nil {
		return records.Note{}, err
	}
	if err := r.adapter.Insert(ctx, records.CollectionNotes.String(), &note); err != nil {
		return records.Note{}, err
	}
	return note, nil
}

func (r *Notes) All(ctx context.Context) ([]records.Note, error) {
	return storage.ReadAll[records.Note](ctx, r.adapter, records.CollectionNotes.String())
}

type Health struct {
	adapter *storage.Adapter
}

func (r *Health) Add(ctx context.Context, metric records.HealthMetric) (records.HealthMetric, error) {
	metric.Metric = strings.TrimSpace(metric.Metric)
	metric.Unit = strings.TrimSpace(metric.Unit)
	metric.RecordedOn = metric.RecordedOn.UTC()
	if err := metric.Validate(); err != nil {
		return records.HealthMetric{}, err
	}
	if err := r.adapter.Insert(ctx, records.CollectionHealth.String(), &metric); err != nil {
		return records.HealthMetric{}, err
	}
	return metric, nil
}

func (r *Health) All(ctx context.Context) ([]records.HealthMetric, error) {
	return storage.ReadAll[records.HealthMetric](ctx, r.adapter, records.CollectionHealth.String())
}

type Community struct {
	adapter *storage.Adapter
}

func (r *Community) Add(ctx context.Context, post records.CommunityPost) (records.CommunityPost, error) {
	post.Message = strings.TrimSpace(post.Message)
	post.CreatedAt = post.CreatedAt.UTC()
	if err := post.Validate(); err != nil {
		return records.CommunityPost{}, err
	}
	if err := r.adapter.Insert(ctx, records.CollectionCommunity.String(), &post); err != nil {
		return records.CommunityPost{}, err
	}
	return post, nil
}

func (r *Community) All(ctx context.Context) ([]records.CommunityPost, error) {
	return storage.ReadAll[records.CommunityPost](ctx, r.adapter, records.CollectionCommunity.String())
}

type Reminders struct {
	adapter *storage.Adapter
}

func (r *Reminders) Add(ctx context.Context, reminder records.Reminder) (records.Reminder, error) {
	reminder.Title = strings.TrimSpace(reminder.Title)
	reminder.DueOn = reminder.DueOn.UTC()
	if err := reminder.Validate(); err != nil {
		return records.Reminder{}, err
	}
	if err := r.adapter.Insert(ctx, records.CollectionReminders.String(), &reminder); err != nil {
		return records.Reminder{}, err
	}
	return reminder, nil
}

// Toggle sets the completed flag. It fails with storage.ErrRecordNotFound for unknown ids.
func (r *Reminders) Toggle(ctx context.Context, id string, completed bool) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: reminder id is required", records.ErrInvalidRecord)
	}
	return r.adapter.Update(ctx, records.CollectionReminders.String(), id, map[string]any{"completed": completed})
}

func (r *Reminders) All(ctx context.Context) ([]records.Reminder, error) {
	return storage.ReadAll[records.Reminder](ctx, r.adapter, records.CollectionReminders.String())
}

// SOS stores emergency contacts and triggered events.
type SOS struct {
	adapter *storage.Adapter
}

func (r *SOS) AddContact(ctx context.Context, contact records.SOSContact) (records.SOSContact, error) {
	contact.Name = strings.TrimSpace(contact.Name)
	contact.Phone = strings.TrimSpace(contact.Phone)
	if err := contact.Validate(); err != nil {
		return records.SOSContact{}, err
	}
	if err := r.adapter.Insert(ctx, records.CollectionContacts.String(), &contact); err != nil {
		return records.SOSContact{}, err
	}
	return contact, nil
}

func (r *SOS) AddEvent(ctx context.Context, event records.SOSEvent) (records.SOSEvent, error) {
	event.TriggeredAt = event.TriggeredAt.UTC()
	if err := event.Validate(); err != nil {
		return records.SOSEvent{}, err
	}
	if err := r.adapter.Insert(ctx, records.CollectionSOSEvents.String(), &event); err != nil {
		return records.SOSEvent{}, err
	}
	return event, nil
}

func (r *SOS) Contacts(ctx context.Context) ([]records.SOSContact, error) {
	return storage.ReadAll[records.SOSContact](ctx, r.adapter, records.CollectionContacts.String())
}

func (r *SOS) Events(ctx context.Context) ([]records.SOSEvent, error) {
	return storage.ReadAll[records.SOSEvent](ctx, r.adapter, records.CollectionSOSEvents.String())
}
