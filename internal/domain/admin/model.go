package admin

import "errors"

var (
	ErrAlreadyApproved = errors.New("doctor is already approved")
	ErrSelfDelete      = errors.New("admins cannot delete their own account")
	ErrValidation      = errors.New("validation failed")
)
