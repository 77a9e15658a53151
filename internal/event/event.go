package event

import "github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/domain"

type Kind string

const (
	KindNewMessage      Kind = "new_message"
	KindHelpPostCreated Kind = "help_post_created"
	KindHelpPostUpdated Kind = "help_post_updated"
	KindHelpOffered     Kind = "help_offered"
	KindHelpAccepted    Kind = "help_accepted"
	KindHelpRejected    Kind = "help_rejected"
	KindStatusChanged   Kind = "status_changed"
	KindSystem          Kind = "system"
)

// Event is a closed union of the domain events the dispatcher relays. Only the
// types in this file implement it.
type Event interface {
	Kind() Kind
	isEvent()
}

type NewMessage struct {
	Message      domain.Message
	Conversation domain.Conversation
}

type HelpPostCreated struct {
	Post domain.HelpPost
}

type HelpPostUpdated struct {
	Post domain.HelpPost
}

type HelpOffered struct {
	Post   domain.HelpPost
	Helper domain.Helper
}

type HelpAccepted struct {
	Post   domain.HelpPost
	Helper domain.Helper
}

type HelpRejected struct {
	Post   domain.HelpPost
	Helper domain.Helper
}

type StatusChanged struct {
	Post      domain.HelpPost
	Actor     domain.UserRef
	OldStatus domain.PostStatus
	NewStatus domain.PostStatus
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type System struct {
	RecipientID int64
	Text        string
	Severity    Severity
}

func (NewMessage) Kind() Kind      { return KindNewMessage }
func (HelpPostCreated) Kind() Kind { return KindHelpPostCreated }
func (HelpPostUpdated) Kind() Kind { return KindHelpPostUpdated }
func (HelpOffered) Kind() Kind     { return KindHelpOffered }
func (HelpAccepted) Kind() Kind    { return KindHelpAccepted }
func (HelpRejected) Kind() Kind    { return KindHelpRejected }
func (StatusChanged) Kind() Kind   { return KindStatusChanged }
func (System) Kind() Kind          { return KindSystem }

func (NewMessage) isEvent()      {}
func (HelpPostCreated) isEvent() {}
func (HelpPostUpdated) isEvent() {}
func (HelpOffered) isEvent()     {}
func (HelpAccepted) isEvent()    {}
func (HelpRejected) isEvent()    {}
func (StatusChanged) isEvent()   {}
func (System) isEvent()          {}
