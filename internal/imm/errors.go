package imm

import "fmt"

// ConfigurationError reports an invalid estimator configuration detected
// at construction time, or an invalid argument to a public operation.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "imm: invalid configuration: " + e.Reason
}

// NumericDegeneracyError reports a division-by-zero condition in the
// mode-probability arithmetic. It means the model set cannot explain the
// current data (all likelihoods zero, or a model is unreachable under the
// transition matrix), which is operationally distinct from a generic
// arithmetic failure: the model set needs review, not a retry.
type NumericDegeneracyError struct {
	// Op is the computation that degenerated: "mixing" or "mode update".
	Op string
	// Model is the index of the offending model, or -1 when the condition
	// spans the whole model set.
	Model int
}

func (e *NumericDegeneracyError) Error() string {
	if e.Model >= 0 {
		return fmt.Sprintf("imm: numeric degeneracy in %s: model %d has zero predicted probability", e.Op, e.Model)
	}
	return fmt.Sprintf("imm: numeric degeneracy in %s: all model likelihoods are zero", e.Op)
}
