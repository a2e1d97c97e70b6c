package errcollection

import (
	"fmt"

	"github.com/pkg/errors"
)

const delimiter = "; "

// ErrorCollection gives the ability to return multiple errors instead of one.
// It gathers errors and returns an error whose message combines the messages
// from all given errors, delimited by a defined string.
type ErrorCollection struct {
	errorList []error
}

// Add inserts a new error to the collection. Nil errors are ignored.
func (e *ErrorCollection) Add(err error) {
	if err == nil {
		return
	}
	e.errorList = append(e.errorList, err)
}

// GetErrIfAny returns an error with the combined message from all given
// errors. In case of no error it returns nil.
func (e *ErrorCollection) GetErrIfAny() error {
	if len(e.errorList) == 0 {
		return nil
	}

	errMsg := ""
	for i, err := range e.errorList {
		errMsg += fmt.Sprintf("%s", err.Error())

		if i != (len(e.errorList) - 1) {
			errMsg += delimiter
		}
	}
	return errors.New(errMsg)
}
