package compiler

import (
	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
)

// CheckPortTypes decides whether an output of type from may feed an input of type to.
// Types must be equal.
func CheckPortTypes(from, to model.PortType) error {
	if from != to {
		return errspkg.PortTypeMismatchError{From: string(from), To: string(to)}
	}
	return nil
}
