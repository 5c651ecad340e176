package errors

import "fmt"

// Must panics if err is not nil.
// Use only for wiring code where failure is a programming error.
func Must(err error, msg string) {
	if err != nil {
		panic(fmt.Sprintf("%s: %v", msg, err))
	}
}
