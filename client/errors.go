package client

import (
	"errors"

	cerrors "github.com/lendbridge/contactsync/internal/errors"
	"github.com/lendbridge/contactsync/internal/gateway"
	"github.com/lendbridge/contactsync/internal/importer"
	"github.com/lendbridge/contactsync/internal/repertoire"
)

var (
	// ErrInvalidPhone is returned when a phone normalizes to nothing.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrInvalidChannel is returned for an unknown invitation channel.
	ErrInvalidChannel = errors.New("invalid invitation channel")
	// ErrNoSnapshot is returned by imports before any device scan.
	ErrNoSnapshot = errors.New("no device snapshot; scan first")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client closed")
)

// Re-export shared errors so callers compare against a single symbol.
var (
	ErrNotFound           = repertoire.ErrNotFound
	ErrDuplicatePhone     = repertoire.ErrDuplicatePhone
	ErrInvitationNotFound = repertoire.ErrInvitationNotFound
	ErrImportInProgress   = importer.ErrImportInProgress
	ErrNoToken            = gateway.ErrNoToken
)

// IsPermanent reports whether err will fail again however often it is retried.
func IsPermanent(err error) bool { return cerrors.IsPermanent(err) }

// IsAuthExpired reports whether err came from a rejected token.
func IsAuthExpired(err error) bool { return cerrors.IsAuthExpired(err) }
