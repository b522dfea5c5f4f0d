package services

import (
	"sync"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/security"
)

// IdentityService hands out the per-profile user id and the per-session id.
// Once issued, an id never changes for the life of the process even if the
// store cannot persist it.
type IdentityService struct {
	mu         sync.Mutex
	persistent telemetry.KeyValueStore
	session    telemetry.KeyValueStore
	ns         string
	userID     string
	sessionID  string
	logger     *logging.ChanneledLogger
}

// NewIdentityService creates an identity service. User ids live in persistent,
// session ids in session.
func NewIdentityService(persistent, session telemetry.KeyValueStore, ns string, logger *logging.ChanneledLogger) *IdentityService {
	return &IdentityService{
		persistent: persistent,
		session:    session,
		ns:         ns,
		logger:     logger,
	}
}

// UserID returns the stored user id, generating and storing one if absent.
func (s *IdentityService) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(s.persistent, s.ns+"_user_id", security.GenerateUserID, &s.userID)
}

// SessionID returns the stored session id, generating and storing one if absent.
func (s *IdentityService) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(s.session, s.ns+"_session_id", security.GenerateSessionID, &s.sessionID)
}

func (s *IdentityService) getOrCreate(store telemetry.KeyValueStore, key string, generate func() string, cached *string) string {
	if *cached != "" {
		return *cached
	}

	value, ok, err := store.Get(key)
	if err != nil {
		s.logger.Consent().Warn("Failed to read identity token", "key", key, "error", err)
	}
	if err == nil && ok && value != "" {
		*cached = value
		return value
	}

	value = generate()
	*cached = value
	if err := store.Set(key, value); err != nil {
		s.logger.Consent().Warn("Failed to persist identity token, keeping it in memory", "key", key, "error", err)
	} else {
		s.logger.Consent().Debug("Identity token issued", "key", key)
	}
	return value
}

// ConsentStatus describes the inputs and result of the consent gate.
type ConsentStatus struct {
	TrackingEnabled bool `json:"trackingEnabled"`
	ConsentRequired bool `json:"consentRequired"`
	ConsentGranted  bool `json:"consentGranted"`
	CanTrack        bool `json:"canTrack"`
}

// ConsentGate decides whether capture is allowed. It only reads the consent
// flag; granting and withdrawing consent belongs to another system.
type ConsentGate struct {
	store           telemetry.KeyValueStore
	key             string
	enableTracking  bool
	consentRequired bool
	logger          *logging.ChanneledLogger
}

// NewConsentGate creates a gate reading <ns>_consent from store.
func NewConsentGate(store telemetry.KeyValueStore, ns string, enableTracking, consentRequired bool, logger *logging.ChanneledLogger) *ConsentGate {
	return &ConsentGate{
		store:           store,
		key:             ns + "_consent",
		enableTracking:  enableTracking,
		consentRequired: consentRequired,
		logger:          logger,
	}
}

// CanTrack reports whether capture may proceed.
func (g *ConsentGate) CanTrack() bool {
	return g.Status().CanTrack
}

// Status evaluates the gate. An unreadable consent flag counts as not granted.
func (g *ConsentGate) Status() ConsentStatus {
	status := ConsentStatus{
		TrackingEnabled: g.enableTracking,
		ConsentRequired: g.consentRequired,
	}

	value, ok, err := g.store.Get(g.key)
	if err != nil {
		g.logger.Consent().Warn("Failed to read consent flag", "key", g.key, "error", err)
	}
	status.ConsentGranted = err == nil && ok && value == "true"

	status.CanTrack = status.TrackingEnabled && (!status.ConsentRequired || status.ConsentGranted)
	return status
}
