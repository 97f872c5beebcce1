package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownParameter is returned by SetParam for a name the program does not carry.
var ErrUnknownParameter = errors.New("unknown model parameter")

// PhaseError reports a compilation step invoked out of order or twice.
type PhaseError struct {
	Op   string
	Want Phase
	Have Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s requires phase %s, compiler is in phase %s", e.Op, e.Want, e.Have)
}

// UnrecognizedExpressionError reports an expression name with no registered builder.
type UnrecognizedExpressionError struct {
	Name string
}

func (e *UnrecognizedExpressionError) Error() string {
	return fmt.Sprintf("unrecognized expression %q (known: %s)", e.Name, strings.Join(expressionNames(), ", "))
}

// UnrecognizedBoundTypeError reports a constraint bound other than lower or upper.
type UnrecognizedBoundTypeError struct {
	Constraint string
	Bound      string
}

func (e *UnrecognizedBoundTypeError) Error() string {
	return fmt.Sprintf("constraint %s: unrecognized bound type %q (want lower or upper)", e.Constraint, e.Bound)
}

// UnrecognizedSenseError reports an objective sense other than minimize or maximize.
type UnrecognizedSenseError struct {
	Sense string
}

func (e *UnrecognizedSenseError) Error() string {
	return fmt.Sprintf("unrecognized objective sense %q (want minimize or maximize)", e.Sense)
}

// UnrecognizedVariantError reports a model variant other than lp or nlp.
type UnrecognizedVariantError struct {
	Variant string
}

func (e *UnrecognizedVariantError) Error() string {
	return fmt.Sprintf("unrecognized model variant %q (want lp or nlp)", e.Variant)
}

// AmbiguousReuseError reports a component name already attached with a different expression.
type AmbiguousReuseError struct {
	Name     string
	Existing ExpressionID
	Proposed ExpressionID
}

func (e *AmbiguousReuseError) Error() string {
	return fmt.Sprintf("component %q already attached as %s, cannot reattach as %s", e.Name, e.Existing, e.Proposed)
}
