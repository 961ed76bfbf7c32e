package session

import "errors"

var (
	// ErrNoActiveSession is returned when an operation requires an
	// authenticated user and none is present.
	ErrNoActiveSession = errors.New("no active session")

	// ErrNoActiveConversation is returned when an operation requires a
	// selected conversation partner and none is present.
	ErrNoActiveConversation = errors.New("no active conversation")
)
