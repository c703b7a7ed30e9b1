package model

import "fmt"

// Operation is the kind of work a bind request asks for. The numeric values are
// the wire request_type codes.
type Operation int

const (
	OpAutoRegister     Operation = 0
	OpBindExistingUser Operation = 1
	OpClearCookies     Operation = 2
)

// String returns the operation name used in logs.
func (o Operation) String() string {
	switch o {
	case OpAutoRegister:
		return "auto_register"
	case OpBindExistingUser:
		return "bind_existing_user"
	case OpClearCookies:
		return "clear_cookies"
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	return o == OpAutoRegister || o == OpBindExistingUser || o == OpClearCookies
}
