package btf

import (
	"fmt"
	"sort"
)

// tarjan finds strongly connected components of the strong-edge subgraph
// over ids 1..n. Returned components are in the order Tarjan completes
// them, which — because edges point from dependent to dependency — is
// already dependency-first: a component is only completed after every
// component it strongly points to has been completed.
type tarjan struct {
	u        *Universe
	n        int
	index    []int
	lowlink  []int
	onStack  []bool
	stack    []TypeID
	counter  int
	sccs     [][]TypeID
}

func newTarjan(u *Universe, n int) *tarjan {
	return &tarjan{
		u:       u,
		n:       n,
		index:   make([]int, n+1),
		lowlink: make([]int, n+1),
		onStack: make([]bool, n+1),
	}
}

const unvisited = -1

func (t *tarjan) run() [][]TypeID {
	for i := range t.index {
		t.index[i] = unvisited
	}
	for id := TypeID(1); int(id) <= t.n; id++ {
		if t.index[id] == unvisited {
			t.strongconnect(id)
		}
	}
	return t.sccs
}

func (t *tarjan) strongconnect(v TypeID) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	targets := strongTargets(t.u, v)
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	for _, w := range targets {
		if t.index[w] == unvisited {
			t.strongconnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.lowlink[v] {
				t.lowlink[v] = t.index[w]
			}
		}
	}

	if t.lowlink[v] == t.index[v] {
		var scc []TypeID
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
}

func selfLoops(u *Universe, id TypeID) bool {
	for _, tgt := range strongTargets(u, id) {
		if tgt == id {
			return true
		}
	}
	return false
}

func strongTargets(u *Universe, id TypeID) []TypeID {
	var out []TypeID
	for _, e := range u.Edges(id) {
		if e.strong && e.target != 0 {
			out = append(out, e.target)
		}
	}
	return out
}

// buildOrder computes the type order (§4.6): reject non-trivial SCCs
// (illegal by-value cycles), then topologically sort the (singleton)
// SCCs by strong edges with ties broken by ascending id for determinism.
func (u *Universe) buildOrder() ([]TypeID, error) {
	n := len(u.types)
	sccs := newTarjan(u, n).run()

	for _, scc := range sccs {
		if len(scc) > 1 {
			sort.Slice(scc, func(i, j int) bool { return scc[i] < scc[j] })
			return nil, fmt.Errorf("types %v: %w", scc, ErrBadStrongCycle)
		}
		// A singleton SCC can still be a cycle if its one member has a
		// strong edge to itself (e.g. a struct holding itself by value).
		if id := scc[0]; selfLoops(u, id) {
			return nil, fmt.Errorf("types [%d]: %w", id, ErrBadStrongCycle)
		}
	}

	// Kahn's algorithm on the (now known-singleton) strong DAG. indeg[u]
	// counts distinct strong dependencies of u; ready nodes are released
	// in ascending id order via a sorted slice used as a priority queue.
	indeg := make([]int, n+1)
	dependents := make([][]TypeID, n+1)
	for id := TypeID(1); int(id) <= n; id++ {
		seen := map[TypeID]bool{}
		for _, tgt := range strongTargets(u, id) {
			if tgt == 0 || seen[tgt] {
				continue
			}
			seen[tgt] = true
			indeg[id]++
			dependents[tgt] = append(dependents[tgt], id)
		}
	}

	ready := make([]TypeID, 0, n)
	for id := TypeID(1); int(id) <= n; id++ {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	order := make([]TypeID, 0, n)
	for len(ready) > 0 {
		v := ready[0]
		ready = ready[1:]
		order = append(order, v)

		var newlyReady []TypeID
		for _, dep := range dependents[v] {
			indeg[dep]--
			if indeg[dep] == 0 {
				newlyReady = append(newlyReady, dep)
			}
		}
		if len(newlyReady) > 0 {
			sort.Slice(newlyReady, func(i, j int) bool { return newlyReady[i] < newlyReady[j] })
			ready = mergeSortedIDs(ready, newlyReady)
		}
	}

	if len(order) != n {
		// Every node had at least one unresolved dependency: only
		// possible if the strong subgraph has a cycle Tarjan missed,
		// which would be a bug in this package, not malformed input.
		return nil, fmt.Errorf("internal: topological sort stalled with %d/%d types placed", len(order), n)
	}
	return order, nil
}

func mergeSortedIDs(a, b []TypeID) []TypeID {
	out := make([]TypeID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// Order returns the ids of every decoded type in legal-C emission order
// (§4.6), computed once and cached.
func (u *Universe) Order() ([]TypeID, error) {
	if !u.orderBuilt {
		u.orderCache, u.orderErr = u.buildOrder()
		u.orderBuilt = true
	}
	return u.orderCache, u.orderErr
}

// OrderStep is one entry of an emission plan: the forward declarations
// that must precede id's own definition, followed by id's definition
// itself.
type OrderStep struct {
	ID       TypeID
	Forwards []TypeID
}

// Plan expands Order() into the forward-declaration schedule described
// in §4.6 step 4: for each type at position p, any not-yet-emitted weak
// target that resolves to a struct/union gets a forward declaration
// immediately before p, each target forward-declared at most once
// across the whole plan.
func (u *Universe) Plan() ([]OrderStep, error) {
	order, err := u.Order()
	if err != nil {
		return nil, err
	}

	position := make(map[TypeID]int, len(order))
	for i, id := range order {
		position[id] = i
	}

	forwardDone := make(map[TypeID]bool)
	steps := make([]OrderStep, len(order))
	for i, id := range order {
		steps[i].ID = id

		var pending []TypeID
		for _, e := range u.Edges(id) {
			if e.strong || e.target == 0 {
				continue
			}
			target := u.Resolve(e.target)
			if !isForwardable(u.Get(target)) {
				continue
			}
			if p, ok := position[target]; ok && p <= i {
				continue // already fully defined earlier, or self-reference
			}
			if forwardDone[target] {
				continue
			}
			forwardDone[target] = true
			pending = append(pending, target)
		}
		sort.Slice(pending, func(a, b int) bool { return pending[a] < pending[b] })
		steps[i].Forwards = pending
	}
	return steps, nil
}

func isForwardable(t Type) bool {
	switch t.Kind() {
	case KindStruct, KindUnion, KindFwd:
		return true
	default:
		return false
	}
}
