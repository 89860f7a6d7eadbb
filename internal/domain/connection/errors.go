package connection

import "errors"

var (
	ErrNotFound          = errors.New("connection request not found")
	ErrForbidden         = errors.New("not authorized to act on this connection request")
	ErrDoctorNotApproved = errors.New("doctor account is awaiting approval")
	ErrInvalidState      = errors.New("connection request has already been handled")
	ErrInvalidTarget     = errors.New("connection target has the wrong role")
	ErrDuplicateRequest  = errors.New("a pending connection request already exists")
	ErrTransientStore    = errors.New("store transaction failed, safe to retry")
	ErrInvalidView       = errors.New("view must be incoming, sent, accepted or history")
)
