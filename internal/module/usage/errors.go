package usage

import "errors"

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidToken  = errors.New("action token too long")
)
