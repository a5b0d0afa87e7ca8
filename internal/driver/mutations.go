package driver

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/records"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/repositories"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/storage"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncqueue"
	"go.uber.org/zap"
)

// MoneyInput describes an earning or expense. A zero RecordedOn means now.
type MoneyInput struct {
	Amount      float64
	Category    string
	Description string
	RecordedOn  time.Time
	Source      string
	PaymentMode string
}

type NoteInput struct {
	Title string
	Body  string
}

// HealthInput describes a health log entry. A zero RecordedOn means now.
type HealthInput struct {
	Metric     string
	Value      float64
	Unit       string
	RecordedOn time.Time
	Notes      string
}

type ReminderInput struct {
	Title     string
	DueOn     time.Time
	Completed bool
}

type ContactInput struct {
	Name     string
	Phone    string
	Relation string
}

type SOSEventInput struct {
	LocationLat *float64
	LocationLng *float64
	Notes       string
}

// change is the queue entry a persisted mutation produces.
type change struct {
	action  syncqueue.Action
	payload any
}

// SetProfileName creates the singleton profile on first use and renames it afterwards.
func (s *Store) SetProfileName(ctx context.Context, name string) (records.DriverProfile, error) {
	name = strings.TrimSpace(name)
	now := s.clock().UTC()
	recordID := strconv.FormatInt(records.ProfileID, 10)

	var saved records.DriverProfile
	err := s.commit(ctx, opSetProfileName, records.CollectionProfile, recordID,
		func(repos *repositories.Set) (change, error) {
			existing, err := repos.Profiles.Get(ctx)
			if err != nil {
				return change{}, err
			}
			if existing == nil {
				stored, err := repos.Profiles.Add(ctx, records.DriverProfile{Name: name, CreatedAt: now})
				if err != nil {
					return change{}, err
				}
				saved = stored
				return change{action: syncqueue.ActionCreate, payload: saved}, nil
			}
			if err := repos.Profiles.Rename(ctx, name); err != nil {
				return change{}, err
			}
			saved = *existing
			saved.Name = name
			return change{
				action:  syncqueue.ActionUpdate,
				payload: map[string]any{"id": records.ProfileID, "name": name},
			}, nil
		},
		func(st *state) {
			profile := saved
			st.profile = &profile
		})
	if err != nil {
		return records.DriverProfile{}, err
	}
	return saved, nil
}

func (s *Store) AddIncome(ctx context.Context, input MoneyInput) (records.MoneyEntry, error) {
	return s.addMoney(ctx, opAddIncome, records.CollectionEarnings, input)
}

// AddExpense records an expense. Expenses carry no source.
func (s *Store) AddExpense(ctx context.Context, input MoneyInput) (records.MoneyEntry, error) {
	input.Source = ""
	return s.addMoney(ctx, opAddExpense, records.CollectionExpenses, input)
}

func (s *Store) addMoney(ctx context.Context, operation string, collection records.Collection, input MoneyInput) (records.MoneyEntry, error) {
	id, err := s.newID(operation)
	if err != nil {
		return records.MoneyEntry{}, err
	}
	entry := records.MoneyEntry{
		ID:          id,
		Amount:      input.Amount,
		Category:    input.Category,
		Description: input.Description,
		RecordedOn:  s.orNow(input.RecordedOn),
		Source:      input.Source,
		PaymentMode: input.PaymentMode,
	}

	err = s.commit(ctx, operation, collection, id,
		func(repos *repositories.Set) (change, error) {
			stored, err := repos.Money.Add(ctx, collection, entry)
			if err != nil {
				return change{}, err
			}
			entry = stored
			return change{action: syncqueue.ActionCreate, payload: entry}, nil
		},
		func(st *state) {
			if collection == records.CollectionEarnings {
				st.earnings = prepend(st.earnings, entry)
			} else {
				st.expenses = prepend(st.expenses, entry)
			}
		})
	if err != nil {
		return records.MoneyEntry{}, err
	}
	return entry, nil
}

func (s *Store) AddNote(ctx context.Context, input NoteInput) (records.Note, error) {
	id, err := s.newID(opAddNote)
	if err != nil {
		return records.Note{}, err
	}
	note := records.Note{ID: id, Title: input.Title, Body: input.Body, CreatedAt: s.clock().UTC()}

	err = s.commit(ctx, opAddNote, records.CollectionNotes, id,
		func(repos *repositories.Set) (change, error) {
			stored, err := repos.Notes.Add(ctx, note)
			if err != nil {
				return change{}, err
			}
			note = stored
			return change{action: syncqueue.ActionCreate, payload: note}, nil
		},
		func(st *state) {
			st.notes = prepend(st.notes, note)
		})
	if err != nil {
		return records.Note{}, err
	}
	return note, nil
}

func (s *Store) AddHealthRecord(ctx context.Context, input HealthInput) (records.HealthMetric, error) {
	id, err := s.newID(opAddHealthRecord)
	if err != nil {
		return records.HealthMetric{}, err
	}
	metric := records.HealthMetric{
		ID:         id,
		Metric:     input.Metric,
		Value:      input.Value,
		Unit:       input.Unit,
		RecordedOn: s.orNow(input.RecordedOn),
		Notes:      input.Notes,
	}

	err = s.commit(ctx, opAddHealthRecord, records.CollectionHealth, id,
		func(repos *repositories.Set) (change, error) {
			stored, err := repos.Health.Add(ctx, metric)
			if err != nil {
				return change{}, err
			}
			metric = stored
			return change{action: syncqueue.ActionCreate, payload: metric}, nil
		},
		func(st *state) {
			st.health = prepend(st.health, metric)
		})
	if err != nil {
		return records.HealthMetric{}, err
	}
	return metric, nil
}

// AddCommunityPost publishes a message signed with the profile name.
func (s *Store) AddCommunityPost(ctx context.Context, message string) (records.CommunityPost, error) {
	id, err := s.newID(opAddCommunityPost)
	if err != nil {
		return records.CommunityPost{}, err
	}
	author := records.DefaultAuthor
	s.mu.RLock()
	if s.state.profile != nil && s.state.profile.Name != "" {
		author = s.state.profile.Name
	}
	s.mu.RUnlock()

	post := records.CommunityPost{
		ID:        id,
		Author:    author,
		Message:   message,
		CreatedAt: s.clock().UTC(),
		Reactions: 0,
		Location:  "",
	}

	err = s.commit(ctx, opAddCommunityPost, records.CollectionCommunity, id,
		func(repos *repositories.Set) (change, error) {
			stored, err := repos.Community.Add(ctx, post)
			if err != nil {
				return change{}, err
			}
			post = stored
			return change{action: syncqueue.ActionCreate, payload: post}, nil
		},
		func(st *state) {
			st.community = prepend(st.community, post)
		})
	if err != nil {
		return records.CommunityPost{}, err
	}
	return post, nil
}

func (s *Store) AddReminder(ctx context.Context, input ReminderInput) (records.Reminder, error) {
	id, err := s.newID(opAddReminder)
	if err != nil {
		return records.Reminder{}, err
	}
	reminder := records.Reminder{ID: id, Title: input.Title, DueOn: input.DueOn, Completed: input.Completed}

	err = s.commit(ctx, opAddReminder, records.CollectionReminders, id,
		func(repos *repositories.Set) (change, error) {
			stored, err := repos.Reminders.Add(ctx, reminder)
			if err != nil {
				return change{}, err
			}
			reminder = stored
			return change{action: syncqueue.ActionCreate, payload: reminder}, nil
		},
		func(st *state) {
			st.reminders = prepend(st.reminders, reminder)
		})
	if err != nil {
		return records.Reminder{}, err
	}
	return reminder, nil
}

// ToggleReminder sets the completed flag and queues a partial update.
func (s *Store) ToggleReminder(ctx context.Context, id string, completed bool) error {
	return s.commit(ctx, opToggleReminder, records.CollectionReminders, id,
		func(repos *repositories.Set) (change, error) {
			if err := repos.Reminders.Toggle(ctx, id, completed); err != nil {
				return change{}, err
			}
			return change{
				action:  syncqueue.ActionUpdate,
				payload: map[string]any{"id": id, "completed": completed},
			}, nil
		},
		func(st *state) {
			reminders := slices.Clone(st.reminders)
			for index := range reminders {
				if reminders[index].ID == id {
					reminders[index].Completed = completed
				}
			}
			st.reminders = reminders
		})
}

func (s *Store) AddSOSContact(ctx context.Context, input ContactInput) (records.SOSContact, error) {
	id, err := s.newID(opAddSOSContact)
	if err != nil {
		return records.SOSContact{}, err
	}
	contact := records.SOSContact{ID: id, Name: input.Name, Phone: input.Phone, Relation: input.Relation}

	err = s.commit(ctx, opAddSOSContact, records.CollectionContacts, id,
		func(repos *repositories.Set) (change, error) {
			stored, err := repos.SOS.AddContact(ctx, contact)
			if err != nil {
				return change{}, err
			}
			contact = stored
			return change{action: syncqueue.ActionCreate, payload: contact}, nil
		},
		func(st *state) {
			st.sosContacts = prepend(st.sosContacts, contact)
		})
	if err != nil {
		return records.SOSContact{}, err
	}
	return contact, nil
}

// RecordSOSEvent stamps an emergency at the current time.
func (s *Store) RecordSOSEvent(ctx context.Context, input SOSEventInput) (records.SOSEvent, error) {
	id, err := s.newID(opRecordSOSEvent)
	if err != nil {
		return records.SOSEvent{}, err
	}
	event := records.SOSEvent{
		ID:          id,
		TriggeredAt: s.clock().UTC(),
		LocationLat: input.LocationLat,
		LocationLng: input.LocationLng,
		Notes:       input.Notes,
	}

	err = s.commit(ctx, opRecordSOSEvent, records.CollectionSOSEvents, id,
		func(repos *repositories.Set) (change, error) {
			stored, err := repos.SOS.AddEvent(ctx, event)
			if err != nil {
				return change{}, err
			}
			event = stored
			return change{action: syncqueue.ActionCreate, payload: event}, nil
		},
		func(st *state) {
			st.sosEvents = prepend(st.sosEvents, event)
		})
	if err != nil {
		return records.SOSEvent{}, err
	}
	return event, nil
}

// commit persists the entity and its queue item in one transaction and only
// then applies the in-memory change. On any failure memory is untouched.
func (s *Store) commit(
	ctx context.Context,
	operation string,
	collection records.Collection,
	recordID string,
	persist func(repos *repositories.Set) (change, error),
	apply func(st *state),
) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var enqueued syncqueue.EnqueueResult
	err := s.adapter.Transaction(ctx, func(tx *storage.Adapter) error {
		repos, err := repositories.New(tx)
		if err != nil {
			return err
		}
		pending, err := persist(repos)
		if err != nil {
			return err
		}
		item, err := s.newQueueItem(collection, recordID, pending)
		if err != nil {
			return err
		}
		queue, err := syncqueue.New(tx, s.logger)
		if err != nil {
			return err
		}
		enqueued, err = queue.Enqueue(ctx, item)
		return err
	})
	if err != nil {
		reason := failureReason(err)
		s.logError(operation, reason, err,
			zap.String("table_name", collection.String()),
			zap.String("record_id", recordID))
		return newStoreError(operation, reason, err)
	}

	s.mu.Lock()
	apply(&s.state)
	s.state.queue = withQueued(s.state.queue, enqueued)
	pending := len(s.state.queue)
	s.mu.Unlock()

	s.dispatcher.Publish(Event{
		Kind:      EventQueueGrown,
		TableName: collection.String(),
		RecordIDs: []string{recordID},
		Pending:   pending,
		At:        s.clock(),
	})
	return nil
}

func (s *Store) newQueueItem(collection records.Collection, recordID string, pending change) (syncqueue.Item, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return syncqueue.Item{}, err
	}
	payload, err := json.Marshal(pending.payload)
	if err != nil {
		return syncqueue.Item{}, err
	}
	return syncqueue.Item{
		ID:        id,
		Table:     collection.String(),
		RecordID:  recordID,
		Action:    pending.action,
		Payload:   string(payload),
		CreatedAt: s.clock().UTC(),
	}, nil
}

func (s *Store) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return "", newStoreError(operation, "id_generation_failed", err)
	}
	return id, nil
}

func (s *Store) orNow(value time.Time) time.Time {
	if value.IsZero() {
		return s.clock().UTC()
	}
	return value
}

// withQueued mirrors EnqueueResult in memory: the superseded item leaves and
// the stored item joins at the newest position.
func withQueued(queue []syncqueue.Item, result syncqueue.EnqueueResult) []syncqueue.Item {
	next := make([]syncqueue.Item, 0, len(queue)+1)
	for _, item := range queue {
		if item.ID == result.SupersededID || item.ID == result.Stored.ID {
			continue
		}
		if item.Table == result.Stored.Table && item.RecordID == result.Stored.RecordID {
			continue
		}
		next = append(next, item)
	}
	return append(next, result.Stored)
}

func prepend[T any](collection []T, value T) []T {
	next := make([]T, 0, len(collection)+1)
	next = append(next, value)
	return append(next, collection...)
}
