package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mailprobe/internal/verdict"
)

func TestClassifyPrecedence(t *testing.T) {
	cases := []struct {
		name     string
		code     int
		enhanced string
		text     string
		status   verdict.RecipientStatus
		tag      string
	}{
		{"enhanced user not found", 550, "5.1.1", "no such user", verdict.StatusUserNotFound, "UserNotFound"},
		{"enhanced temporary", 450, "4.2.1", "mailbox busy", verdict.StatusTemporaryFailure, "MailboxBusy"},
		{"enhanced blacklisted", 550, "5.7.1", "blocked by policy", verdict.StatusBlacklisted, "BlockedByBlacklist"},
		{"accepted", 250, "", "2.1.5 OK", verdict.StatusValid, "Accepted"},
		{"cannot verify temp", 252, "", "cannot VRFY user", verdict.StatusTemporaryFailure, "CannotVerify"},
		{"four xx temp", 450, "", "mailbox busy", verdict.StatusTemporaryFailure, "MailboxBusy"},
		{"user unknown by code", 550, "", "user unknown", verdict.StatusUserNotFound, "UserNotFound"},
		{"user unknown by text", 554, "", "no such user here", verdict.StatusUserNotFound, "Rejected"},
		{"recipient rejected text", 554, "", "recipient address rejected", verdict.StatusUserNotFound, "Rejected"},
		{"blacklist text", 550, "", "blocked by spamhaus", verdict.StatusBlacklisted, "BlockedBySpamhaus"},
		{"other 5xx", 553, "", "mailbox name not allowed", verdict.StatusUnknownFailure, "MailboxNameInvalid"},
		{"unclassified", 999, "", "gibberish", verdict.StatusUnknownFailure, "Unclassified"},
		{"relay denied", 554, "", "relay access denied", verdict.StatusUnknownFailure, "RelayDenied"},
		{"access denied", 550, "", "not permitted to relay", verdict.StatusUserNotFound, "AccessDenied"},
		{"text override beats code table", 553, "", "relay access denied for this domain", verdict.StatusUnknownFailure, "RelayDenied"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, tag := Classify(tc.code, tc.enhanced, tc.text)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.tag, tag)
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	s1, t1 := Classify(550, "5.1.1", "user unknown")
	s2, t2 := Classify(550, "5.1.1", "user unknown")
	assert.Equal(t, s1, s2)
	assert.Equal(t, t1, t2)
}
