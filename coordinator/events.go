package coordinator

import "github.com/jrsteele09/go-oauth-credentials/credential"

const (
	EventCredentialAdded     = "credential_added"
	EventCredentialRemoved   = "credential_removed"
	EventCredentialExpired   = "credential_expired"
	EventCredentialRefreshed = "credential_refreshed"
	EventTagsUpdated         = "tags_updated"
	EventCleared             = "cleared"
	EventDefaultChanged      = "default_changed"
)

// Event is published by a Coordinator. The set of variants is closed.
type Event interface {
	Name() string
	coordinatorEvent()
}

type CredentialAdded struct {
	Credential *credential.Credential
}

type CredentialRemoved struct {
	ID string
}

// CredentialExpired is advisory. Storage is not changed.
type CredentialExpired struct {
	Credential *credential.Credential
}

type CredentialRefreshed struct {
	Credential *credential.Credential
}

type TagsUpdated struct {
	ID   string
	Tags []string
}

type Cleared struct{}

// DefaultChanged relays the storage default pointer; ID is "" when cleared.
type DefaultChanged struct {
	ID string
}

func (CredentialAdded) Name() string     { return EventCredentialAdded }
func (CredentialRemoved) Name() string   { return EventCredentialRemoved }
func (CredentialExpired) Name() string   { return EventCredentialExpired }
func (CredentialRefreshed) Name() string { return EventCredentialRefreshed }
func (TagsUpdated) Name() string         { return EventTagsUpdated }
func (Cleared) Name() string             { return EventCleared }
func (DefaultChanged) Name() string      { return EventDefaultChanged }

func (CredentialAdded) coordinatorEvent()     {}
func (CredentialRemoved) coordinatorEvent()   {}
func (CredentialExpired) coordinatorEvent()   {}
func (CredentialRefreshed) coordinatorEvent() {}
func (TagsUpdated) coordinatorEvent()         {}
func (Cleared) coordinatorEvent()             {}
func (DefaultChanged) coordinatorEvent()      {}
