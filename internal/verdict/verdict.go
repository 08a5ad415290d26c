// Package verdict holds the data model shared across the probing
// engine: the recipient-status enum, the wire transcript, the SMTP
// reply shape, and the outward Verdict returned to callers.
package verdict

import "time"

// RecipientStatus is the internal outcome of one SMTP session.
type RecipientStatus string

const (
	StatusValid             RecipientStatus = "Valid"
	StatusUserNotFound      RecipientStatus = "UserNotFound"
	StatusTemporaryFailure  RecipientStatus = "TemporaryFailure"
	StatusUnknownFailure    RecipientStatus = "UnknownFailure"
	StatusBlacklisted       RecipientStatus = "Blacklisted"
)

// Outward category strings, the user-visible taxonomy.
const (
	CategoryValid               = "Valid"
	CategoryInvalid             = "Invalid"
	CategoryCatchAll            = "Catch-All"
	CategoryDisposable          = "Disposable"
	CategoryBlacklisted         = "Blacklisted"
	CategoryWhitelisted         = "Whitelisted"
	CategoryUserNotFound        = "UserNotFound"
	CategoryGreylisted          = "Greylisted"
	CategoryRelayDenied         = "RelayDenied"
	CategoryAccessDenied        = "AccessDenied"
	CategoryUnknown             = "Unknown"
	CategoryForwarded           = "Forwarded"
	CategoryCannotVerify        = "CannotVerify"
	CategoryMailboxBusy         = "MailboxBusy"
	CategoryLocalError          = "LocalError"
	CategoryInsufficientStorage = "InsufficientStorage"
	CategorySyntaxError         = "SyntaxError"
)

// TranscriptLine is one line of the SMTP wire dialog, in send order.
type TranscriptLine struct {
	Direction string `json:"direction"` // ">>" outbound, "<<" inbound
	Payload   string `json:"payload"`
}

// SmtpReply is a parsed (possibly multi-line) SMTP response.
type SmtpReply struct {
	Code         int    `json:"code"` // -1 if unparseable
	EnhancedCode string `json:"enhancedCode,omitempty"`
	Text         string `json:"text"`
}

// SessionOutcome is the result of one SMTP session against one host:port.
type SessionOutcome struct {
	Status       RecipientStatus  `json:"status"`
	ReplyCode    int              `json:"replyCode"`
	ReplyText    string           `json:"replyText"`
	DiagnosticTag string          `json:"diagnosticTag"`
	MailHost     string           `json:"mailHost"`
	Port         int              `json:"port"`
	TLS          bool             `json:"tls"`
	Transcript   []TranscriptLine `json:"transcript"`
	Timestamp    time.Time        `json:"timestamp"`
	Err          string           `json:"error,omitempty"`
}

// Verdict is the outward result of probing one address.
type Verdict struct {
	Address              string           `json:"address"`
	Category             string           `json:"category"`
	CatchAll             bool             `json:"catchAll"`
	SmtpCode             int              `json:"smtpCode"`
	Status               RecipientStatus  `json:"status,omitempty"`
	DiagnosticTag        string           `json:"diagnosticTag,omitempty"`
	MailHost             string           `json:"mailHost,omitempty"`
	Transcript           []TranscriptLine `json:"transcript,omitempty"`
	PortOpened           bool             `json:"portOpened"`
	ConnectionSuccessful bool             `json:"connectionSuccessful"`
	Errors               string           `json:"errors,omitempty"`
	Timestamp            time.Time        `json:"timestamp"`
}

// NewVerdict seeds a Verdict with the fields the orchestrator must set
// before any classification step runs (step 1 of Categorize).
func NewVerdict(address string, now time.Time) Verdict {
	return Verdict{
		Address:   address,
		Timestamp: now,
	}
}
