// Package units discovers verification units, the test and setup methods of compiled test contracts.
package units

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// SetupSignature is the signature of the method preparing the state every test of a contract starts from.
const SetupSignature = "setUp()"

// Unit is one verification unit: a method of a test contract.
type Unit struct {
	// Contract is the name of the contract declaring the method.
	Contract string
	// Signature is the method signature, e.g. "test_add(uint256,uint256)".
	Signature string
}

// ID returns the unit identifier "<Contract>.<signature>".
func (u Unit) ID() string {
	return u.Contract + "." + u.Signature
}

// String implements fmt.Stringer.
func (u Unit) String() string {
	return u.ID()
}

// IsSetup reports whether the unit is the setup method of its contract.
func (u Unit) IsSetup() bool {
	return u.Signature == SetupSignature
}

// Setup returns the setup unit of the unit's contract.
func (u Unit) Setup() Unit {
	return Unit{Contract: u.Contract, Signature: SetupSignature}
}

// ParseID splits a unit identifier into its contract and signature.
func ParseID(id string) (Unit, error) {
	contract, signature, ok := strings.Cut(id, ".")
	if !ok || contract == "" || !strings.HasSuffix(signature, ")") || !strings.Contains(signature, "(") {
		return Unit{}, errors.Errorf("invalid unit identifier %q, expected <Contract>.<method>(<types>)", id)
	}
	return Unit{Contract: contract, Signature: signature}, nil
}

// UnknownUnitError is returned when requested test patterns select nothing.
type UnknownUnitError struct {
	// Patterns holds the patterns which matched no unit.
	Patterns []string
}

// Error implements the error interface.
func (e *UnknownUnitError) Error() string {
	if len(e.Patterns) == 0 {
		return "no test matched the selection"
	}
	return fmt.Sprintf("test identifiers not found: %s", strings.Join(e.Patterns, ", "))
}
