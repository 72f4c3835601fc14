package app

import (
	"errors"

	"roomchat/pkg/store"
)

var (
	ErrRoomNotFound = store.ErrRoomNotFound
	// ErrUnauthorized means the caller has no valid session.
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrWrongPassword = errors.New("wrong password")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAdminDisabled = errors.New("admin login disabled")
)
