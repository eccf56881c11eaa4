package payment

import "errors"

// ErrInFlight is returned when another worker holds the charge lock and
// has not stored its charge yet.
var ErrInFlight = errors.New("charge creation already in flight")

// ErrNotConfirmed is returned when the reservation was withdrawn or
// declined while the gateway call was running.
var ErrNotConfirmed = errors.New("reservation no longer confirmed")
