package notify

import (
	"time"

	"github.com/google/uuid"

	"kull-server/services/report"
)

// Channels an event may be delivered on.
const (
	ChannelDesktop = "desktop"
	ChannelMobile  = "mobile"
	ChannelEmail   = "email"
)

// Event types.
const (
	TypeShootCompleted = "shoot_completed"
	TypeShootFailed    = "shoot_failed"
	TypeCreditLow      = "credit_low"
)

// Device is a registered mobile push target.
type Device struct {
	Token      string `json:"token"`
	Platform   string `json:"platform,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

// Payload is the closed set of event bodies. Each event type carries exactly
// the fields its adapters need, so adapters switch on the concrete type
// instead of digging through loose maps.
type Payload interface {
	eventType() string
}

type ShootCompleted struct {
	Report         *report.Report `json:"report"`
	RecipientEmail string         `json:"recipientEmail,omitempty"`
	MobileDevices  []Device       `json:"mobileDevices,omitempty"`
}

func (ShootCompleted) eventType() string { return TypeShootCompleted }

type ShootFailed struct {
	Reason        string   `json:"reason"`
	MobileDevices []Device `json:"mobileDevices,omitempty"`
}

func (ShootFailed) eventType() string { return TypeShootFailed }

type CreditLow struct {
	Remaining     int64    `json:"remaining"`
	MobileDevices []Device `json:"mobileDevices,omitempty"`
}

func (CreditLow) eventType() string { return TypeCreditLow }

// Event is one in-process notification. Delivery is at-most-once and
// non-durable; events die with the process.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	ShootID    string    `json:"shootId,omitempty"`
	Channels   []string  `json:"channels"`
	Payload    Payload   `json:"payload"`
	OccurredAt time.Time `json:"occurredAt"`
}

func NewEvent(userID, shootID string, channels []string, payload Payload) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       payload.eventType(),
		UserID:     userID,
		ShootID:    shootID,
		Channels:   channels,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Recipient is the slice of the user record notifications need.
type Recipient struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// EmitShootCompleted publishes a completion event. Desktop and mobile are
// always addressed; email only when the user has an address on file.
func EmitShootCompleted(bus *Bus, user Recipient, rep *report.Report, devices []Device) {
	if user.ID == "" {
		return
	}
	channels := []string{ChannelDesktop, ChannelMobile}
	if user.Email != "" {
		channels = append(channels, ChannelEmail)
	}
	bus.Emit(NewEvent(user.ID, "", channels, ShootCompleted{
		Report:         rep,
		RecipientEmail: user.Email,
		MobileDevices:  devices,
	}))
}

// EmitShootFailed publishes a failure event to desktop and mobile.
func EmitShootFailed(bus *Bus, userID, shootID, reason string, devices []Device) {
	if userID == "" {
		return
	}
	bus.Emit(NewEvent(userID, shootID, []string{ChannelDesktop, ChannelMobile}, ShootFailed{
		Reason:        reason,
		MobileDevices: devices,
	}))
}

// EmitCreditLow publishes a low-balance warning to desktop and mobile.
func EmitCreditLow(bus *Bus, userID string, remaining int64, devices []Device) {
	if userID == "" {
		return
	}
	bus.Emit(NewEvent(userID, "", []string{ChannelDesktop, ChannelMobile}, CreditLow{
		Remaining:     remaining,
		MobileDevices: devices,
	}))
}
