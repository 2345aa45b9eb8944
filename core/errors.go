package core

import "errors"

var (
	ErrStateNotFound      = errors.New("board state not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrBoardNotFound      = errors.New("board not found")
	ErrPermissionNotFound = errors.New("permission not found")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrPeerClosed = errors.New("peer closed")
	ErrPeerSlow   = errors.New("peer send queue full")
	ErrRoomBusy   = errors.New("room has connected clients")

	ErrRegistryClosed = errors.New("room registry is shut down")
)
