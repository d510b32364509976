// Package sos orchestrates emergency alerts: confirmation, partner contact
// resolution, a network-aware fallback to a direct call, and delivery of
// the alert event plus a best-effort push. The alert must degrade, never
// crash: only errors that change what the user should do (missing contact
// info, a failed send) surface; everything else is absorbed.
package sos

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sync-pair-backend/internal/clock"
	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/push"
	"sync-pair-backend/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Collection holds SOS event documents.
const Collection = "sos_events"

// State is the machine's current position in the alert flow.
type State string

const (
	StateIdle       State = "idle"
	StateConfirming State = "confirming"
	StateResolving  State = "resolving"
	StateSending    State = "sending"
	StateSent       State = "sent"
	StateFailed     State = "failed"
)

// ErrContactMissing means the partner has no reachable contact configured.
// User-actionable: show configuration instructions, not a transient error.
var ErrContactMissing = errors.New("sos: partner contact information missing")

// Reachability reports whether the network is currently usable. A check
// that times out reports unreachable; the flow assumes the worst and
// proceeds on the call branch rather than blocking.
type Reachability interface {
	Reachable(ctx context.Context) bool
}

// CallLauncher opens a telephony or video-call deep link. Unsupported
// schemes report supported=false; they never abort the flow.
type CallLauncher interface {
	Open(uri string) (supported bool, err error)
}

// Users is the slice of the user repository contact resolution needs.
type Users interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Request carries everything one alert needs.
type Request struct {
	UserID     string
	PairKey    string
	PartnerID  string
	SenderName string
	Message    string
}

// Contact is the resolved way to reach the partner.
type Contact struct {
	DisplayName  string
	VideoContact string
	PhoneNumber  string
}

// Result reports how the alert went out.
type Result struct {
	Event        *models.SOSEvent
	CallLaunched bool
}

// Machine walks one alert through
// Idle -> Confirming -> Resolving -> Sending -> Sent | Failed.
// One-tap mode skips Confirming. After Failed the machine accepts another
// Press, allowing retry.
type Machine struct {
	store    store.Store
	users    Users
	clock    clock.Clock
	reach    Reachability
	launcher CallLauncher
	notifier push.Notifier

	mu    sync.Mutex
	state State
}

// NewMachine creates an SOS machine in Idle.
func NewMachine(st store.Store, users Users, clk clock.Clock, reach Reachability, launcher CallLauncher, notifier push.Notifier) *Machine {
	return &Machine{
		store:    st,
		users:    users,
		clock:    clk,
		reach:    reach,
		launcher: launcher,
		notifier: notifier,
		state:    StateIdle,
	}
}

// State returns the machine's current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Press starts an alert. In normal mode the machine stops at Confirming
// and waits for Confirm; in one-tap mode it goes straight to resolution.
func (m *Machine) Press(ctx context.Context, req Request, oneTap bool) (*Result, error) {
	if err := m.transition([]State{StateIdle, StateSent, StateFailed}, StateConfirming); err != nil {
		return nil, err
	}
	if !oneTap {
		return nil, nil
	}
	return m.run(ctx, req)
}

// Confirm continues an alert the user has confirmed.
func (m *Machine) Confirm(ctx context.Context, req Request) (*Result, error) {
	if m.State() != StateConfirming {
		return nil, fmt.Errorf("sos: confirm without pending alert")
	}
	return m.run(ctx, req)
}

// Cancel abandons a pending confirmation.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateConfirming {
		m.state = StateIdle
	}
}

func (m *Machine) run(ctx context.Context, req Request) (*Result, error) {
	m.setState(StateResolving)

	contact, err := m.resolveContact(ctx, req.PartnerID)
	if err != nil {
		m.setState(StateFailed)
		return nil, err
	}

	m.setState(StateSending)

	if !m.reach.Reachable(ctx) && contact.PhoneNumber != "" {
		// No network: the call, not the notification, is the primary
		// channel. The event write is best effort and the push attempt is
		// skipped entirely.
		event := m.writeEvent(ctx, req, true)
		m.launch("tel:" + contact.PhoneNumber)
		m.setState(StateSent)
		return &Result{Event: event, CallLaunched: true}, nil
	}

	event := m.writeEvent(ctx, req, false)
	if event == nil {
		m.setState(StateFailed)
		return nil, fmt.Errorf("sos: failed to record alert")
	}

	if partner, err := m.users.GetByID(ctx, req.PartnerID); err == nil && partner.PushToken != nil {
		body := req.Message
		if body == "" {
			body = "I need you right now!"
		}
		m.notifier.Send(ctx, *partner.PushToken, fmt.Sprintf("%s needs you", req.SenderName), body, map[string]string{
			"type":   "sos",
			"sos_id": event.ID,
		})
	}

	m.setState(StateSent)
	return &Result{Event: event}, nil
}

// resolveContact picks the partner's contact in priority order: explicit
// video-call contact, then email, with the phone number carried alongside
// for the offline branch. Neither present is ErrContactMissing.
func (m *Machine) resolveContact(ctx context.Context, partnerID string) (Contact, error) {
	partner, err := m.users.GetByID(ctx, partnerID)
	if err != nil {
		return Contact{}, fmt.Errorf("failed to load partner: %w", err)
	}

	c := Contact{}
	if partner.DisplayName != nil {
		c.DisplayName = *partner.DisplayName
	}
	if partner.VideoCallContact != nil && *partner.VideoCallContact != "" {
		c.VideoContact = *partner.VideoCallContact
	} else if partner.Email != nil && *partner.Email != "" {
		c.VideoContact = *partner.Email
	}
	if partner.PhoneNumber != nil {
		c.PhoneNumber = *partner.PhoneNumber
	}

	if c.VideoContact == "" && c.PhoneNumber == "" {
		return Contact{}, ErrContactMissing
	}
	return c, nil
}

// writeEvent records the SOSEvent. bestEffort swallows write failures (the
// offline branch has already committed to the call).
func (m *Machine) writeEvent(ctx context.Context, req Request, bestEffort bool) *models.SOSEvent {
	event := &models.SOSEvent{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		PairKey:   req.PairKey,
		Message:   req.Message,
		Responded: false,
		Timestamp: m.clock.Now().UnixMilli(),
	}
	err := m.store.Create(ctx, Collection, event.ID, store.Document{
		"id":        event.ID,
		"user_id":   event.UserID,
		"pair_key":  event.PairKey,
		"message":   event.Message,
		"responded": false,
		"timestamp": event.Timestamp,
	})
	if err != nil {
		if bestEffort {
			log.Warn().Err(err).Msg("Failed to record SOS event, call already launched")
			return event
		}
		log.Error().Err(err).Msg("Failed to record SOS event")
		return nil
	}
	return event
}

func (m *Machine) launch(uri string) {
	supported, err := m.launcher.Open(uri)
	if err != nil {
		log.Warn().Err(err).Str("uri", uri).Msg("Call launch failed")
		return
	}
	if !supported {
		log.Warn().Str("uri", uri).Msg("Call scheme not supported on this device")
	}
}

func (m *Machine) transition(from []State, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range from {
		if m.state == s {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("sos: invalid transition from %s", m.state)
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
