package subscription

import "errors"

var (
	ErrInvalidOrgID      = errors.New("invalid organization id")
	ErrInvalidPlan       = errors.New("invalid plan")
	ErrInvalidTransition = errors.New("invalid subscription transition")
)
