package records

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// Collection names a persisted entity collection. The names double as the
// table_name carried by sync queue items.
type Collection string

const (
	CollectionProfile   Collection = "driver_profile"
	CollectionEarnings  Collection = "earnings"
	CollectionExpenses  Collection = "expenses"
	CollectionNotes     Collection = "notes"
	CollectionHealth    Collection = "health_logs"
	CollectionCommunity Collection = "community_posts"
	CollectionReminders Collection = "reminders"
	CollectionContacts  Collection = "sos_contacts"
	CollectionSOSEvents Collection = "sos_events"
)

func (c Collection) String() string {
	return string(c)
}

// Collections lists every entity collection in hydration order.
func Collections() []Collection {
	return []Collection{
		CollectionProfile,
		CollectionEarnings,
		CollectionExpenses,
		CollectionNotes,
		CollectionHealth,
		CollectionCommunity,
		CollectionReminders,
		CollectionContacts,
		CollectionSOSEvents,
	}
}

const (
	// ProfileID keys the singleton profile row.
	ProfileID int64 = 1
	// DefaultAuthor signs community posts written before a profile exists.
	DefaultAuthor = "Driver Helper"
	// MaxPostLength bounds community post messages, counted in runes.
	MaxPostLength = 320
)

var ErrInvalidRecord = errors.New("invalid record")

type DriverProfile struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// MoneyEntry is shared by the earnings and expenses collections.
type MoneyEntry struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	Amount      float64   `gorm:"column:amount;not null" json:"amount"`
	Category    string    `gorm:"column:category;not null" json:"category"`
	Description string    `gorm:"column:description" json:"description,omitempty"`
	RecordedOn  time.Time `gorm:"column:recorded_on;not null" json:"recorded_on"`
	Source      string    `gorm:"column:source" json:"source,omitempty"`
	PaymentMode string    `gorm:"column:payment_mode" json:"payment_mode,omitempty"`
}

type Note struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Title     string    `gorm:"column:title" json:"title"`
	Body      string    `gorm:"column:body;not null" json:"body"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

type HealthMetric struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	Metric     string    `gorm:"column:metric;not null" json:"metric"`
	Value      float64   `gorm:"column:value;not null" json:"value"`
	Unit       string    `gorm:"column:unit" json:"unit"`
	RecordedOn time.Time `gorm:"column:recorded_on;not null" json:"recorded_on"`
	Notes      string    `gorm:"column:notes" json:"notes,omitempty"`
}

type CommunityPost struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Author    string    `gorm:"column:author;not null" json:"author"`
	Message   string    `gorm:"column:message;not null" json:"message"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	Reactions int       `gorm:"column:reactions;not null;default:0" json:"reactions"`
	Location  string    `gorm:"column:location" json:"location"`
}

type Reminder struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Title     string    `gorm:"column:title;not null" json:"title"`
	DueOn     time.Time `gorm:"column:due_on;not null" json:"due_on"`
	Completed bool      `gorm:"column:completed;not null;default:false" json:"completed"`
}

type SOSContact struct {
	ID       string `gorm:"column:id;primaryKey" json:"id"`
	Name     string `gorm:"column:name;not null" json:"name"`
	Phone    string `gorm:"column:phone;not null" json:"phone"`
	Relation string `gorm:"column:relation" json:"relation,omitempty"`
}

type SOSEvent struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	TriggeredAt time.Time `gorm:"column:triggered_at;not null" json:"triggered_at"`
	LocationLat *float64  `gorm:"column:location_lat" json:"location_lat,omitempty"`
	LocationLng *float64  `gorm:"column:location_lng" json:"location_lng,omitempty"`
	Notes       string    `gorm:"column:notes" json:"notes,omitempty"`
}

func (DriverProfile) TableName() string { return CollectionProfile.String() }
func (Note) TableName() string          { return CollectionNotes.String() }
func (HealthMetric) TableName() string  { return CollectionHealth.String() }
func (CommunityPost) TableName() string { return CollectionCommunity.String() }
func (Reminder) TableName() string      { return CollectionReminders.String() }
func (SOSContact) TableName() string    { return CollectionContacts.String() }
func (SOSEvent) TableName() string      { return CollectionSOSEvents.String() }

func (p DriverProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: profile name is required", ErrInvalidRecord)
	}
	return nil
}

func (m MoneyEntry) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: money entry id is required", ErrInvalidRecord)
	}
	if !finite(m.Amount) {
		return fmt.Errorf("%w: amount must be a finite number", ErrInvalidRecord)
	}
	if m.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidRecord)
	}
	if strings.TrimSpace(m.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidRecord)
	}
	if m.RecordedOn.IsZero() {
		return fmt.Errorf("%w: recorded_on is required", ErrInvalidRecord)
	}
	return nil
}

func (n Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: note id is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(n.Body) == "" {
		return fmt.Errorf("%w: note body is required", ErrInvalidRecord)
	}
	return nil
}

func (h HealthMetric) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("%w: health metric id is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(h.Metric) == "" {
		return fmt.Errorf("%w: metric is required", ErrInvalidRecord)
	}
	if !finite(h.Value) {
		return fmt.Errorf("%w: value must be a finite number", ErrInvalidRecord)
	}
	if h.RecordedOn.IsZero() {
		return fmt.Errorf("%w: recorded_on is required", ErrInvalidRecord)
	}
	return nil
}

func (c CommunityPost) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: post id is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(c.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidRecord)
	}
	if utf8.RuneCountInString(c.Message) > MaxPostLength {
		return fmt.Errorf("%w: message exceeds %d characters", ErrInvalidRecord, MaxPostLength)
	}
	return nil
}

func (r Reminder) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: reminder id is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: reminder title is required", ErrInvalidRecord)
	}
	if r.DueOn.IsZero() {
		return fmt.Errorf("%w: due_on is required", ErrInvalidRecord)
	}
	return nil
}

func (s SOSContact) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: contact id is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: contact name is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(s.Phone) == "" {
		return fmt.Errorf("%w: contact phone is required", ErrInvalidRecord)
	}
	return nil
}

func (e SOSEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidRecord)
	}
	if e.TriggeredAt.IsZero() {
		return fmt.Errorf("%w: triggered_at is required", ErrInvalidRecord)
	}
	if (e.LocationLat != nil && !finite(*e.LocationLat)) || (e.LocationLng != nil && !finite(*e.LocationLng)) {
		return fmt.Errorf("%w: location must be finite", ErrInvalidRecord)
	}
	return nil
}

// finite rejects NaN and the infinities, which neither JSON nor the NOT NULL
// columns can carry.
func finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
