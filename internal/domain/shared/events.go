// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents a state transition the ledger
// commits; they are deposited into the block that produced them.
const (
	// Intake lifecycle events
	EventIntakeAnnounced      EventType = "intake.announced"
	EventIntakeClosed         EventType = "intake.closed"
	EventIntakeFinalised      EventType = "intake.finalised"
	EventApplicationSubmitted EventType = "intake.application_submitted"
	EventApplicationWithdrawn EventType = "intake.application_withdrawn"
	EventApplicationAccepted  EventType = "intake.application_accepted"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// Block returns the block in which the event occurred. Events carry no
	// wall-clock time so every replica produces identical event logs.
	Block() BlockNumber

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType   `json:"type" cbor:"type"`
	BlockNumber   BlockNumber `json:"block" cbor:"block"`
	AggregateId   string      `json:"aggregate_id" cbor:"aggregate_id"`
	Version       int         `json:"version" cbor:"version"`
	CorrelationID string      `json:"correlation_id,omitempty" cbor:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// Block implements Event interface.
func (e BaseEvent) Block() BlockNumber {
	return e.BlockNumber
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, block BlockNumber) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		BlockNumber: block,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Intake Events
// ═══════════════════════════════════════════════════════════════════════════

// IntakeAnnouncedEvent is emitted when an institution opens a new admission window.
type IntakeAnnouncedEvent struct {
	BaseEvent
	Institution InstitutionID `json:"institution"`
	Index       uint32        `json:"index"`
}

// Payload implements Event interface.
func (e IntakeAnnouncedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"institution": e.Institution.String(),
		"index":       e.Index,
	}
}

// NewIntakeAnnouncedEvent creates a new IntakeAnnouncedEvent.
func NewIntakeAnnouncedEvent(intakeKey string, institution InstitutionID, index uint32, block BlockNumber) IntakeAnnouncedEvent {
	return IntakeAnnouncedEvent{
		BaseEvent:   NewBaseEvent(EventIntakeAnnounced, intakeKey, block),
		Institution: institution,
		Index:       index,
	}
}

// IntakeClosedEvent is emitted by the expiry sweep when a window reaches its closing block.
type IntakeClosedEvent struct {
	BaseEvent
}

// Payload implements Event interface.
func (e IntakeClosedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{}
}

// NewIntakeClosedEvent creates a new IntakeClosedEvent.
func NewIntakeClosedEvent(intakeKey string, block BlockNumber) IntakeClosedEvent {
	return IntakeClosedEvent{BaseEvent: NewBaseEvent(EventIntakeClosed, intakeKey, block)}
}

// IntakeFinalisedEvent is emitted when an institution finalises a closed intake.
type IntakeFinalisedEvent struct {
	BaseEvent
	PurgedApplications int `json:"purged_applications"`
}

// Payload implements Event interface.
func (e IntakeFinalisedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"purged_applications": e.PurgedApplications,
	}
}

// NewIntakeFinalisedEvent creates a new IntakeFinalisedEvent.
func NewIntakeFinalisedEvent(intakeKey string, purged int, block BlockNumber) IntakeFinalisedEvent {
	return IntakeFinalisedEvent{
		BaseEvent:          NewBaseEvent(EventIntakeFinalised, intakeKey, block),
		PurgedApplications: purged,
	}
}

// ApplicationEvent is shared by the per-applicant lifecycle events.
type ApplicationEvent struct {
	BaseEvent
	Applicant AccountID `json:"applicant"`
}

// Payload implements Event interface.
func (e ApplicationEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"applicant": e.Applicant.String(),
	}
}

// NewApplicationSubmittedEvent creates the event for a new application.
func NewApplicationSubmittedEvent(intakeKey string, applicant AccountID, block BlockNumber) ApplicationEvent {
	return ApplicationEvent{
		BaseEvent: NewBaseEvent(EventApplicationSubmitted, intakeKey, block),
		Applicant: applicant,
	}
}

// NewApplicationWithdrawnEvent creates the event for a withdrawn application.
func NewApplicationWithdrawnEvent(intakeKey string, applicant AccountID, block BlockNumber) ApplicationEvent {
	return ApplicationEvent{
		BaseEvent: NewBaseEvent(EventApplicationWithdrawn, intakeKey, block),
		Applicant: applicant,
	}
}

// NewApplicationAcceptedEvent creates the event for an accepted application.
func NewApplicationAcceptedEvent(intakeKey string, applicant AccountID, block BlockNumber) ApplicationEvent {
	return ApplicationEvent{
		BaseEvent: NewBaseEvent(EventApplicationAccepted, intakeKey, block),
		Applicant: applicant,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Record (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventRecord is the serializable form of an event, as stored in a block.
type EventRecord struct {
	Type          EventType              `json:"type" cbor:"type"`
	AggregateID   string                 `json:"aggregate_id" cbor:"aggregate_id"`
	Block         BlockNumber            `json:"block" cbor:"block"`
	CorrelationID string                 `json:"correlation_id,omitempty" cbor:"correlation_id,omitempty"`
	Payload       map[string]interface{} `json:"payload" cbor:"payload"`
}

// RecordOf converts an event to its serializable form.
func RecordOf(event Event) EventRecord {
	rec := EventRecord{
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Block:       event.Block(),
		Payload:     event.Payload(),
	}
	if c, ok := event.(interface{ Correlation() string }); ok {
		rec.CorrelationID = c.Correlation()
	}
	return rec
}

// Correlation returns the correlation ID attached to the event.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// AsEvent adapts the record back to Event, e.g. after it crossed a transport.
func (r EventRecord) AsEvent() Event {
	return RecordedEvent{Record: r}
}

// RecordedEvent is an Event backed by an EventRecord.
type RecordedEvent struct {
	Record EventRecord
}

// EventType implements Event interface.
func (e RecordedEvent) EventType() EventType { return e.Record.Type }

// Block implements Event interface.
func (e RecordedEvent) Block() BlockNumber { return e.Record.Block }

// AggregateID implements Event interface.
func (e RecordedEvent) AggregateID() string { return e.Record.AggregateID }

// Payload implements Event interface.
func (e RecordedEvent) Payload() map[string]interface{} { return e.Record.Payload }

// Correlation returns the correlation ID carried by the record.
func (e RecordedEvent) Correlation() string { return e.Record.CorrelationID }

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(event Event) error

// Publish implements EventPublisher.
func (f EventPublisherFunc) Publish(event Event) error {
	return f(event)
}

// NopPublisher discards events.
var NopPublisher EventPublisher = EventPublisherFunc(func(Event) error { return nil })
