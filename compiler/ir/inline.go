package ir

import (
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

// InlineCall replaces call with a copy of callee's body.
// The call block is split: it ends jumping into the inlined entry,
// and operators after the call move to the returned continuation block.
// Inlined calls get their InliningPath extended with callee's method.
func InlineCall(call *Operator, callee *ControlFlowGraph) (cont *BasicBlock, err error) {
	cur := call.Block
	if cur == nil {
		return nil, errors.New("call %v is not in a block", call)
	}

	g := cur.Graph

	if len(call.Args) != len(callee.Arguments) {
		return nil, errors.New("call %v: %d args, callee expects %d", call, len(call.Args), len(callee.Arguments))
	}

	pos := -1

	for i, op := range cur.Operators {
		if op == call {
			pos = i
			break
		}
	}

	if pos < 0 {
		return nil, errors.New("call %v not found in %v", call, cur)
	}

	c := NewCloningContext(callee, g, nil, CloneWholeGraph)

	var calls []*Operator
	seen := map[*Operator]struct{}{}

	c.Notify = func(from, to any) {
		op, ok := to.(*Operator)
		if !ok || op.Op != OpCall && op.Op != OpCallExternal {
			return
		}

		if _, ok := seen[op]; ok {
			return
		}

		seen[op] = struct{}{}
		calls = append(calls, op)
	}

	tail := append([]*Operator{}, cur.Operators[pos+1:]...)
	cur.Operators = cur.Operators[:pos]

	for i, a := range callee.Arguments {
		t := g.NewTemporary(a.Type())
		c.RegisterExpression(a, t)

		cur.AddOperator(NewOperator(OpMove, []Expression{t}, call.Args[i]))
	}

	cont = g.NewBlock(Normal)
	cont.ProtectedBy = append([]*BasicBlock{}, cur.ProtectedBy...)

	var ret *Operator

	if callee.Exit != nil {
		exit := g.NewBlock(Normal)
		exit.ProtectedBy = append([]*BasicBlock{}, cur.ProtectedBy...)

		c.RegisterBlock(callee.Exit, exit)

		for _, op := range callee.Exit.Operators {
			if op.Op == OpReturn {
				ret = op
				break
			}

			exit.AddOperator(c.CloneOperator(op))
		}

		if ret != nil && len(call.Results) != 0 {
			if len(ret.Args) != len(call.Results) {
				return nil, errors.New("call %v: %d results, callee returns %d", call, len(call.Results), len(ret.Args))
			}

			for i, r := range call.Results {
				exit.AddOperator(NewOperator(OpMove, []Expression{r}, c.CloneExpression(ret.Args[i])))
			}
		}

		exit.AddOperator(NewBranch(cont))
	}

	entry := c.CloneBlock(callee.Entry)

	cur.AddOperator(NewBranch(entry))

	for _, op := range tail {
		cont.AddOperator(op)
	}

	c.Cloned(func(from, to any) {
		bb, ok := to.(*BasicBlock)
		if !ok || bb.Graph != g {
			return
		}

		if bb.Kind == Entry || bb.Kind == Exit {
			bb.Kind = Normal
		}

		for _, eh := range cur.ProtectedBy {
			bb.SetProtectedBy(eh)
		}
	})

	outer, _ := GetAnnotation[*InliningPath](call)

	for _, op := range calls {
		inner, ok := GetAnnotation[*InliningPath](op)
		if ok {
			op.RemoveAnnotation(inner)
		}

		op.AddAnnotation(ComposeInliningPath(g.TS, outer, callee.Method, inner))
	}

	g.UpdateFlowInformation()

	tlog.V("inline").Printw("inlined call", "caller", g.Method, "callee", callee.Method, "calls", len(calls), "cont", cont)

	return cont, nil
}
