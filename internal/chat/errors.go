package chat

import "errors"

// Dispatch failures. All are terminal for the call they occurred in and are
// reported only to the originating connection. ErrNotAMember deliberately
// covers "group does not exist" too, so callers cannot probe for groups.
var (
	ErrValidation        = errors.New("invalid message")
	ErrSenderNotFound    = errors.New("sender not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrNotAMember        = errors.New("not a group member")
	ErrNotAnAdmin        = errors.New("not a group admin")
	ErrPersistence       = errors.New("message could not be stored")
	// ErrDeliveryFailed is the generic failure returned for blocked pairs;
	// it must not reveal that a block exists.
	ErrDeliveryFailed = errors.New("message could not be delivered")
)
