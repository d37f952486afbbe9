package domain

import (
	"encoding/json"
	"time"
)

type AlertVariant string

const (
	AlertDefault     AlertVariant = "default"
	AlertSuccess     AlertVariant = "success"
	AlertDestructive AlertVariant = "destructive"
)

// AlertAction is the click-through attached to an alert. Target is a portal
// route; ChatID is set when the action opens a chat.
type AlertAction struct {
	Label  string `json:"label"`
	Target string `json:"target,omitempty"`
	ChatID string `json:"chatId,omitempty"`
}

// Alert is a transient, dismissible message shown to the partner.
type Alert struct {
	Title       string
	Description string
	Variant     AlertVariant
	Duration    time.Duration
	Action      *AlertAction
	Sound       bool
}

func (a Alert) MarshalJSON() ([]byte, error) {
	variant := a.Variant
	if variant == "" {
		variant = AlertDefault
	}
	return json.Marshal(struct {
		Title       string       `json:"title"`
		Description string       `json:"description,omitempty"`
		Variant     AlertVariant `json:"variant"`
		DurationMS  int64        `json:"durationMs,omitempty"`
		Action      *AlertAction `json:"action,omitempty"`
		Sound       bool         `json:"sound,omitempty"`
	}{a.Title, a.Description, variant, a.Duration.Milliseconds(), a.Action, a.Sound})
}

// Sink receives what a partner's realtime components produce: alerts and
// state updates addressed to the partner's browser.
type Sink interface {
	Alert(a Alert)
	Publish(kind string, payload interface{})
}

// DiscardSink drops everything.
type DiscardSink struct{}

func (DiscardSink) Alert(Alert)                 {}
func (DiscardSink) Publish(string, interface{}) {}
