package engine

import "errors"

var (
	// ErrEmptyText is returned when a send has no message text.
	ErrEmptyText = errors.New("empty message text")

	// ErrEmptyQuery is returned when a user search has no query.
	ErrEmptyQuery = errors.New("empty search query")

	// ErrNothingToUnsend is returned when no last-sent message id is known
	// to this client session.
	ErrNothingToUnsend = errors.New("nothing to unsend")

	// ErrNoPendingSnapshot is returned when a restore is requested with no
	// undo window open.
	ErrNoPendingSnapshot = errors.New("no pending snapshot")
)
