package domain

import "errors"

var (
	ErrInvalidUserID      = errors.New("invalid_user_id")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInsufficientCredit = errors.New("insufficient_credits")
)
