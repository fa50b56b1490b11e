package ir

// ShouldLhsBeMovedToPseudoRegister reports whether result idx of op lives
// in a stack slot while some constraint requires a non-address register.
func ShouldLhsBeMovedToPseudoRegister(op *Operator, idx int) bool {
	return shouldMove(op, op.Results, idx, true)
}

// ShouldRhsBeMovedToPseudoRegister is ShouldLhsBeMovedToPseudoRegister for arguments.
func ShouldRhsBeMovedToPseudoRegister(op *Operator, idx int) bool {
	return shouldMove(op, op.Args, idx, false)
}

func shouldMove(op *Operator, l []Expression, idx int, isResult bool) bool {
	if idx < 0 || idx >= len(l) {
		return false
	}

	if _, ok := l[idx].(*StackLocation); !ok {
		return false
	}

	for _, an := range FilterAnnotations[*RegisterAllocationConstraint](op) {
		if an.isResult != isResult || an.index != idx {
			continue
		}

		if an.constraint != RegClassAddress {
			return true
		}
	}

	return false
}

// ComputeConstraintsForLHS combines constraints of every result slot holding ex.
func ComputeConstraintsForLHS(op *Operator, ex Expression) RegisterClass {
	return computeByExpression(op, op.Results, ex, true)
}

// ComputeConstraintsForRHS combines constraints of every argument slot holding ex.
func ComputeConstraintsForRHS(op *Operator, ex Expression) RegisterClass {
	return computeByExpression(op, op.Args, ex, false)
}

func ComputeConstraintsForLHSAt(op *Operator, idx int) RegisterClass {
	return computeAt(op, idx, true)
}

func ComputeConstraintsForRHSAt(op *Operator, idx int) RegisterClass {
	return computeAt(op, idx, false)
}

func computeByExpression(op *Operator, l []Expression, ex Expression, isResult bool) (c RegisterClass) {
	for i, x := range l {
		if x == ex {
			c |= computeAt(op, i, isResult)
		}
	}

	return c
}

func computeAt(op *Operator, idx int, isResult bool) (c RegisterClass) {
	for _, an := range FilterAnnotations[*RegisterAllocationConstraint](op) {
		if an.isResult == isResult && an.index == idx {
			c |= an.constraint
		}
	}

	return c
}
