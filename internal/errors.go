package sentinel

import "errors"

// Sentinel errors for the billing gateway domain.
var (
	ErrBadRequest      = errors.New("bad request")
	ErrUnknownModel    = errors.New("unknown model")
	ErrBudgetExceeded  = errors.New("budget exceeded")
	ErrBudgetBreached  = errors.New("budget breached")
	ErrUpstreamConnect = errors.New("upstream connect failed")
	ErrUpstreamStream  = errors.New("upstream stream failed")
	ErrNotFound        = errors.New("not found")
	ErrSessionStore    = errors.New("session store unavailable")
)
