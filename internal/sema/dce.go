package sema

import "github.com/cjit-project/cjit/internal/ast"

// dceAddRoot adds name to the reachable set and worklist if it names a
// known object and hasn't been visited yet, grounded on
// tinyrange-rtg/std/compiler/dce.go's dceAddRoot.
func dceAddRoot(name string, index map[string]int, reachable map[string]bool, worklist []string) []string {
	if _, exists := index[name]; !exists {
		return worklist
	}
	if !reachable[name] {
		reachable[name] = true
		worklist = append(worklist, name)
	}
	return worklist
}

// EliminateUnreachable runs mark-and-sweep reachability over the parsed
// module: root set is "main" plus every non-static object (an extern-
// visible definition could be called from another translation unit, so it
// is conservatively kept live), then a depth-first worklist walk over each live function's
// CalledFuncs edges, generalizing
// tinyrange-rtg/std/compiler/dce.go's eliminateDeadFunctions from a
// Go-program's main.main root to C's "main" plus the extern-linkage rule.
// A tentative definition later shadowed by a full definition of the same
// name was already collapsed in place by Module.define, so no redundant
// tentative entries survive to this pass.
func EliminateUnreachable(mod *Module) {
	index := make(map[string]int, len(mod.Objects))
	for i, o := range mod.Objects {
		index[o.Name] = i
	}

	reachable := make(map[string]bool)
	var worklist []string

	worklist = dceAddRoot("main", index, reachable, worklist)
	for _, o := range mod.Objects {
		if o.Flags&ast.FlagStatic == 0 {
			worklist = dceAddRoot(o.Name, index, reachable, worklist)
		}
	}

	for len(worklist) > 0 {
		name := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		idx, ok := index[name]
		if !ok {
			continue
		}
		o := mod.Objects[idx]
		for _, callee := range o.CalledFuncs {
			worklist = dceAddRoot(callee, index, reachable, worklist)
		}
	}

	for _, o := range mod.Objects {
		if reachable[o.Name] {
			o.Flags |= ast.FlagLive
		}
	}

	kept := mod.Objects[:0]
	for _, o := range mod.Objects {
		if o.Flags&ast.FlagLive != 0 {
			kept = append(kept, o)
		}
	}
	mod.Objects = kept

	keptFuncs := mod.Funcs[:0]
	for _, fn := range mod.Funcs {
		if reachable[fn.Name] {
			keptFuncs = append(keptFuncs, fn)
		}
	}
	mod.Funcs = keptFuncs
}
