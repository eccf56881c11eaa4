package admin

import (
	"errors"
)

var (
	ErrMemberConflict = errors.New("member email already exists")
	ErrInvalidInput   = errors.New("invalid input")
)
