package alarms

import (
	"fmt"

	"github.com/c360/chatsession/errors"
)

var errNotAttached = errors.WrapInvalid(
	fmt.Errorf("%w: alarms module is not attached to a session", errors.ErrNotReadyForChat),
	"alarms", "send", "check session")

func errInvalidSeconds(s string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %q is not a number of seconds", errors.ErrInvalidData, s),
		"alarms", "ParseSeconds", "parse duration")
}
