package btf

// edge is one outgoing reference from a type to another, classified
// strong (by-value containment) or weak (by-reference) per §3.2.
type edge struct {
	target TypeID
	strong bool
}

// followChain walks a by-value chain of modifiers/typedefs/arrays,
// starting at "start", and returns the single edge that chain produces.
// Modifiers, typedefs, and arrays are strong-transparent: the walk
// continues through them. Ptr and FuncProto terminate transparency and
// always produce a weak edge, per the rule in §4.5 ("the transparency
// rule ... is applied on the source side").
func followChain(u *Universe, start TypeID) edge {
	cur := start
	for {
		switch v := u.Get(cur).(type) {
		case *Typedef:
			cur = v.Base
		case *Volatile:
			cur = v.Base
		case *Const:
			cur = v.Base
		case *Restrict:
			cur = v.Base
		case *TypeTag:
			cur = v.Base
		case *Array:
			cur = v.Elem
		case *Ptr:
			return edge{target: v.Target, strong: false}
		case *FuncProto:
			return edge{target: cur, strong: false}
		default:
			return edge{target: cur, strong: true}
		}
	}
}

// edgesOf computes the outgoing edges of id per the table in §3.2.
func edgesOf(u *Universe, id TypeID) []edge {
	switch v := u.Get(id).(type) {
	case *Ptr:
		return []edge{{target: v.Target, strong: false}}

	case *Array:
		return []edge{followChain(u, v.Elem)}

	case *Struct:
		return memberEdges(u, v.Members)
	case *Union:
		return memberEdges(u, v.Members)

	case *Typedef:
		return []edge{followChain(u, v.Base)}
	case *Volatile:
		return []edge{followChain(u, v.Base)}
	case *Const:
		return []edge{followChain(u, v.Base)}
	case *Restrict:
		return []edge{followChain(u, v.Base)}
	case *TypeTag:
		return []edge{followChain(u, v.Base)}

	case *Func:
		return []edge{{target: v.Proto, strong: false}}

	case *FuncProto:
		edges := make([]edge, 0, len(v.Params)+1)
		edges = append(edges, edge{target: v.Return, strong: false})
		for _, p := range v.Params {
			if p.Type == 0 {
				continue // vararg marker
			}
			edges = append(edges, edge{target: p.Type, strong: false})
		}
		return edges

	case *Var:
		return []edge{followChain(u, v.Type)}

	case *Datasec:
		edges := make([]edge, 0, len(v.Vars))
		for _, dv := range v.Vars {
			edges = append(edges, followChain(u, dv.Type))
		}
		return edges

	case *DeclTag:
		return []edge{{target: v.Target, strong: false}}

	default:
		// Int, Float, Enum, Enum64, Fwd: no out-edges.
		return nil
	}
}

func memberEdges(u *Universe, members []Member) []edge {
	edges := make([]edge, len(members))
	for i, m := range members {
		edges[i] = followChain(u, m.Type)
	}
	return edges
}

func (u *Universe) buildGraph() {
	if u.graphBuilt {
		return
	}
	u.graph = make([][]edge, len(u.types)+1) // index by id, 0 unused
	for _, t := range u.types {
		u.graph[t.ID()] = edgesOf(u, t.ID())
	}
	u.graphBuilt = true
}

// Edges returns the outgoing edges of id, computed and cached once per
// Universe.
func (u *Universe) Edges(id TypeID) []edge {
	u.buildGraph()
	return u.graph[id]
}
