package btf

import "fmt"

// validateRefs walks every decoded type and checks that each id it
// references is either 0 (void) or names a real decoded type (§3.1).
// This runs once at parse time so every later consumer (graph, order,
// layout, emitter) can assume all stored ids are in range.
func (u *Universe) validateRefs() error {
	check := func(from TypeID, ref TypeID) error {
		return u.checkRange(ref)
	}

	for _, t := range u.types {
		var err error
		switch v := t.(type) {
		case *Ptr:
			err = check(t.ID(), v.Target)
		case *Array:
			if err = check(t.ID(), v.Elem); err == nil {
				err = check(t.ID(), v.Index)
			}
		case *Struct:
			err = checkMembers(u, t.ID(), v.Members)
		case *Union:
			err = checkMembers(u, t.ID(), v.Members)
		case *Typedef:
			err = check(t.ID(), v.Base)
		case *Volatile:
			err = check(t.ID(), v.Base)
		case *Const:
			err = check(t.ID(), v.Base)
		case *Restrict:
			err = check(t.ID(), v.Base)
		case *TypeTag:
			err = check(t.ID(), v.Base)
		case *Func:
			err = check(t.ID(), v.Proto)
		case *FuncProto:
			if err = check(t.ID(), v.Return); err == nil {
				for _, p := range v.Params {
					if p.Type == 0 && p.Name == "" {
						continue // vararg marker
					}
					if err = check(t.ID(), p.Type); err != nil {
						break
					}
				}
			}
		case *Var:
			err = check(t.ID(), v.Type)
		case *Datasec:
			for _, dv := range v.Vars {
				if err = check(t.ID(), dv.Type); err != nil {
					break
				}
			}
		case *DeclTag:
			err = check(t.ID(), v.Target)
		}
		if err != nil {
			return fmt.Errorf("type id %d: %w", t.ID(), err)
		}
	}
	return nil
}

func checkMembers(u *Universe, id TypeID, members []Member) error {
	for i, m := range members {
		if err := u.checkRange(m.Type); err != nil {
			return fmt.Errorf("member %d: %w", i, err)
		}
	}
	return nil
}

// checkTypedefCycles rejects a modifier/typedef chain that loops back on
// itself without ever reaching a non-modifier kind (§3.1, §4.4).
func (u *Universe) checkTypedefCycles() error {
	for _, t := range u.types {
		switch t.(type) {
		case *Typedef, *Volatile, *Const, *Restrict, *TypeTag:
		default:
			continue
		}

		seen := map[TypeID]bool{t.ID(): true}
		id := modifierBase(t)
		for {
			next := u.Get(id)
			base, ok := modifierBaseOf(next)
			if !ok {
				break
			}
			if seen[id] {
				return fmt.Errorf("type id %d: %w", t.ID(), ErrBadTypedefCycle)
			}
			seen[id] = true
			id = base
		}
	}
	return nil
}

func modifierBase(t Type) TypeID {
	base, _ := modifierBaseOf(t)
	return base
}

func modifierBaseOf(t Type) (TypeID, bool) {
	switch v := t.(type) {
	case *Typedef:
		return v.Base, true
	case *Volatile:
		return v.Base, true
	case *Const:
		return v.Base, true
	case *Restrict:
		return v.Base, true
	case *TypeTag:
		return v.Base, true
	default:
		return 0, false
	}
}
