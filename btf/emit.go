package btf

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// EmitMode selects between the two dump styles of §4.8.
type EmitMode int

const (
	// ModeHuman prints one descriptive line per type (plus indented
	// member/value lines), the same shape bpftool's plain dump uses.
	ModeHuman EmitMode = iota
	// ModeC prints valid, compilable C source.
	ModeC
)

// Filter restricts emission to a subset of the universe (§6.3). An
// empty Filter matches every type. A non-empty Filter matches any type
// satisfying at least one of IDs/Names/Kinds, plus the transitive
// strong-reachable closure of those matches (so the emitted C, if any,
// stays self-contained and compilable).
type Filter struct {
	IDs     map[TypeID]bool
	Names   map[string]bool
	Kinds   map[Kind]bool
	Lenient bool
	// IncludeExt, when true, appends the .BTF.ext data passed to Emit
	// (func_info/line_info/core_relocs, §4.9) after the type dump. It
	// has no effect unless Emit is also given a non-nil *ExtData.
	IncludeExt bool
}

// Emit writes the universe (or the subset selected by filter) to w in
// the requested mode. ext is optional; pass the .BTF.ext data decoded
// by ParseExt against u to have filter.IncludeExt take effect.
func (u *Universe) Emit(w io.Writer, mode EmitMode, filter Filter, ext ...*ExtData) error {
	emitted := u.resolveFilter(filter)
	bw := bufio.NewWriter(w)

	var err error
	switch mode {
	case ModeHuman:
		err = u.emitHuman(bw, emitted, filter.Lenient)
	case ModeC:
		err = u.emitC(bw, emitted, filter.Lenient)
	default:
		return fmt.Errorf("emit mode %d: %w", mode, ErrEmitIO)
	}
	if err != nil {
		return err
	}

	if filter.IncludeExt && len(ext) > 0 && ext[0] != nil {
		if mode == ModeC {
			fmt.Fprintln(bw, "\n/* .BTF.ext */")
		}
		ext[0].Dump(bw, u)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush: %v: %w", err, ErrEmitIO)
	}
	return nil
}

// resolveFilter computes the set of emitted ids: the direct matches,
// widened to their strong-reachable closure.
func (u *Universe) resolveFilter(f Filter) map[TypeID]bool {
	matched := make(map[TypeID]bool)
	if len(f.IDs) == 0 && len(f.Names) == 0 && len(f.Kinds) == 0 {
		for id := TypeID(1); int(id) <= u.NumTypes(); id++ {
			matched[id] = true
		}
		return matched
	}

	for id := range f.IDs {
		if int(id) <= u.NumTypes() {
			matched[id] = true
		}
	}
	for _, t := range u.types {
		if f.Names[t.TypeName()] || f.Kinds[t.Kind()] {
			matched[t.ID()] = true
		}
	}

	closure := make(map[TypeID]bool, len(matched))
	queue := make([]TypeID, 0, len(matched))
	for id := range matched {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if closure[id] {
			continue
		}
		closure[id] = true
		for _, e := range u.Edges(id) {
			if e.strong && e.target != 0 {
				queue = append(queue, e.target)
			}
		}
		// Edges pass over typedefs and modifiers, so the ids that members
		// and modifiers name directly are queued as well.
		var members []Member
		switch v := u.Get(id).(type) {
		case *Struct:
			members = v.Members
		case *Union:
			members = v.Members
		}
		for _, m := range members {
			queue = append(queue, m.Type)
		}
		if base, ok := modifierBaseOf(u.Get(id)); ok {
			queue = append(queue, base)
		}
	}
	return closure
}

// --- Human mode ---

func (u *Universe) emitHuman(w io.Writer, emitted map[TypeID]bool, lenient bool) error {
	for id := TypeID(1); int(id) <= u.NumTypes(); id++ {
		if !emitted[id] {
			continue
		}
		line, err := u.humanLine(u.Get(id))
		if err != nil {
			if lenient {
				fmt.Fprintf(w, "[%d] /* invalid type: %v */\n", id, err)
				continue
			}
			return err
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func (u *Universe) humanLine(t Type) (string, error) {
	switch v := t.(type) {
	case *Int:
		return fmt.Sprintf("[%d] INT '%s' size=%d bits_offset=%d nr_bits=%d encoding=%s",
			v.ID(), v.TypeName(), v.Size, v.OffsetBits, v.Bits, intEncodingString(v.Encoding)), nil

	case *Ptr:
		return fmt.Sprintf("[%d] PTR '%s' type_id=%d", v.ID(), v.TypeName(), v.Target), nil

	case *Array:
		return fmt.Sprintf("[%d] ARRAY '%s' type_id=%d index_type_id=%d nr_elems=%d",
			v.ID(), v.TypeName(), v.Elem, v.Index, v.Nelems), nil

	case *Struct:
		lines := []string{fmt.Sprintf("[%d] STRUCT '%s' size=%d vlen=%d", v.ID(), v.TypeName(), v.Size, len(v.Members))}
		for _, m := range v.Members {
			lines = append(lines, humanMemberLine(m, v.KindFlag))
		}
		return strings.Join(lines, "\n"), nil

	case *Union:
		lines := []string{fmt.Sprintf("[%d] UNION '%s' size=%d vlen=%d", v.ID(), v.TypeName(), v.Size, len(v.Members))}
		for _, m := range v.Members {
			lines = append(lines, humanMemberLine(m, v.KindFlag))
		}
		return strings.Join(lines, "\n"), nil

	case *Enum:
		lines := []string{fmt.Sprintf("[%d] ENUM '%s' size=%d vlen=%d signed=%t", v.ID(), v.TypeName(), v.Size, len(v.Values), v.Signed)}
		for _, val := range v.Values {
			lines = append(lines, fmt.Sprintf("\t'%s' val=%d", val.Name, val.Value))
		}
		return strings.Join(lines, "\n"), nil

	case *Enum64:
		lines := []string{fmt.Sprintf("[%d] ENUM64 '%s' size=%d vlen=%d signed=%t", v.ID(), v.TypeName(), v.Size, len(v.Values), v.Signed)}
		for _, val := range v.Values {
			if v.Signed {
				lines = append(lines, fmt.Sprintf("\t'%s' val=%d", val.Name, val.Int64()))
			} else {
				lines = append(lines, fmt.Sprintf("\t'%s' val=%d", val.Name, val.Uint64()))
			}
		}
		return strings.Join(lines, "\n"), nil

	case *Fwd:
		kind := "struct"
		if v.FwdKind == FwdUnion {
			kind = "union"
		}
		return fmt.Sprintf("[%d] FWD '%s' fwd_kind=%s", v.ID(), v.TypeName(), kind), nil

	case *Typedef:
		return fmt.Sprintf("[%d] TYPEDEF '%s' type_id=%d", v.ID(), v.TypeName(), v.Base), nil
	case *Volatile:
		return fmt.Sprintf("[%d] VOLATILE '%s' type_id=%d", v.ID(), v.TypeName(), v.Base), nil
	case *Const:
		return fmt.Sprintf("[%d] CONST '%s' type_id=%d", v.ID(), v.TypeName(), v.Base), nil
	case *Restrict:
		return fmt.Sprintf("[%d] RESTRICT '%s' type_id=%d", v.ID(), v.TypeName(), v.Base), nil
	case *TypeTag:
		return fmt.Sprintf("[%d] TYPE_TAG '%s' type_id=%d", v.ID(), v.TypeName(), v.Base), nil

	case *Func:
		return fmt.Sprintf("[%d] FUNC '%s' type_id=%d linkage=%s", v.ID(), v.TypeName(), v.Proto, v.Linkage), nil

	case *FuncProto:
		lines := []string{fmt.Sprintf("[%d] FUNC_PROTO '%s' ret_type_id=%d vlen=%d", v.ID(), v.TypeName(), v.Return, len(v.Params))}
		for _, p := range v.Params {
			if p.Type == 0 && p.Name == "" {
				lines = append(lines, "\t'...' vararg")
				continue
			}
			lines = append(lines, fmt.Sprintf("\t'%s' type_id=%d", p.Name, p.Type))
		}
		return strings.Join(lines, "\n"), nil

	case *Var:
		return fmt.Sprintf("[%d] VAR '%s' type_id=%d linkage=%s", v.ID(), v.TypeName(), v.Type, v.Linkage), nil

	case *Datasec:
		lines := []string{fmt.Sprintf("[%d] DATASEC '%s' size=%d vlen=%d", v.ID(), v.TypeName(), v.Size, len(v.Vars))}
		for _, dv := range v.Vars {
			lines = append(lines, fmt.Sprintf("\ttype_id=%d offset=%d size=%d", dv.Type, dv.Offset, dv.Size))
		}
		return strings.Join(lines, "\n"), nil

	case *Float:
		return fmt.Sprintf("[%d] FLOAT '%s' size=%d", v.ID(), v.TypeName(), v.Size), nil

	case *DeclTag:
		return fmt.Sprintf("[%d] DECL_TAG '%s' type_id=%d component_idx=%d", v.ID(), v.TypeName(), v.Target, v.ComponentIdx), nil

	case Void:
		return "[0] VOID", nil

	default:
		return "", fmt.Errorf("unhandled kind %v", t.Kind())
	}
}

func humanMemberLine(m Member, kindFlag bool) string {
	if kindFlag {
		return fmt.Sprintf("\t'%s' type_id=%d bits_offset=%d bitfield_size=%d", m.Name, m.Type, m.BitOffset, m.BitWidth)
	}
	return fmt.Sprintf("\t'%s' type_id=%d bits_offset=%d", m.Name, m.Type, m.BitOffset)
}

func intEncodingString(e IntEncoding) string {
	switch {
	case e.Bool():
		return "BOOL"
	case e.Char():
		return "CHAR"
	case e.Signed():
		return "SIGNED"
	default:
		return "(none)"
	}
}

// --- C mode ---

func (u *Universe) emitC(w io.Writer, emitted map[TypeID]bool, lenient bool) error {
	fullOrder, err := u.Order()
	if err != nil {
		return err
	}

	var steps []TypeID
	for _, id := range fullOrder {
		if emitted[id] {
			steps = append(steps, id)
		}
	}
	position := make(map[TypeID]int, len(steps))
	for i, id := range steps {
		position[id] = i
	}

	forwardDone := make(map[TypeID]bool)
	for i, id := range steps {
		var forwards []TypeID
		for _, e := range u.Edges(id) {
			if e.strong || e.target == 0 {
				continue
			}
			target := u.Resolve(e.target)
			if !isForwardable(u.Get(target)) {
				continue
			}
			if p, ok := position[target]; ok && p <= i {
				continue
			}
			if forwardDone[target] {
				continue
			}
			forwardDone[target] = true
			forwards = append(forwards, target)
		}
		sort.Slice(forwards, func(a, b int) bool { return forwards[a] < forwards[b] })
		for _, f := range forwards {
			line, ok := forwardDeclLine(u.Get(f))
			if ok {
				fmt.Fprint(w, line)
			}
		}

		text, err := u.defineLine(u.Get(id))
		if err != nil {
			if lenient {
				fmt.Fprintf(w, "/* invalid type %d: %v */\n", id, err)
				continue
			}
			return err
		}
		if text != "" {
			fmt.Fprint(w, text)
		}
	}
	return nil
}

func forwardDeclLine(t Type) (string, bool) {
	switch v := t.(type) {
	case *Struct:
		if v.TypeName() == "" {
			return "", false
		}
		return fmt.Sprintf("struct %s;\n", v.TypeName()), true
	case *Union:
		if v.TypeName() == "" {
			return "", false
		}
		return fmt.Sprintf("union %s;\n", v.TypeName()), true
	case *Fwd:
		kw := "struct"
		if v.FwdKind == FwdUnion {
			kw = "union"
		}
		return fmt.Sprintf("%s %s;\n", kw, v.TypeName()), true
	default:
		return "", false
	}
}

func (u *Universe) defineLine(t Type) (string, error) {
	switch v := t.(type) {
	case *Struct:
		layout, err := u.Layout(v.ID())
		if err != nil {
			return "", err
		}
		body, err := u.compositeBody(v.TypeName(), v.KindFlag, v.Members, false, layout.Packed)
		if err != nil {
			return "", err
		}
		return body + ";\n", nil

	case *Union:
		layout, err := u.Layout(v.ID())
		if err != nil {
			return "", err
		}
		body, err := u.compositeBody(v.TypeName(), v.KindFlag, v.Members, true, layout.Packed)
		if err != nil {
			return "", err
		}
		return body + ";\n", nil

	case *Enum:
		var b strings.Builder
		b.WriteString("enum")
		if v.TypeName() != "" {
			b.WriteString(" " + v.TypeName())
		}
		b.WriteString(" {\n")
		for _, val := range v.Values {
			fmt.Fprintf(&b, "\t%s = %d,\n", val.Name, val.Value)
		}
		b.WriteString("};\n")
		return b.String(), nil

	case *Enum64:
		var b strings.Builder
		b.WriteString("enum")
		if v.TypeName() != "" {
			b.WriteString(" " + v.TypeName())
		}
		b.WriteString(" {\n")
		for _, val := range v.Values {
			if v.Signed {
				fmt.Fprintf(&b, "\t%s = %d,\n", val.Name, val.Int64())
			} else {
				fmt.Fprintf(&b, "\t%s = %d,\n", val.Name, val.Uint64())
			}
		}
		b.WriteString("};\n")
		return b.String(), nil

	case *Fwd:
		kw := "struct"
		if v.FwdKind == FwdUnion {
			kw = "union"
		}
		return fmt.Sprintf("%s %s;\n", kw, v.TypeName()), nil

	case *Typedef:
		decl, err := u.declare(v.Base, v.TypeName())
		if err != nil {
			return "", err
		}
		return "typedef " + decl + ";\n", nil

	case *Func:
		decl, err := u.declare(v.Proto, v.TypeName())
		if err != nil {
			return "", err
		}
		return decl + ";\n", nil

	case *Var:
		decl, err := u.declare(v.Type, v.TypeName())
		if err != nil {
			return "", err
		}
		prefix := "extern "
		if v.Linkage == LinkageStatic {
			prefix = "static "
		}
		return prefix + decl + ";\n", nil

	case *Datasec:
		var b strings.Builder
		fmt.Fprintf(&b, "/* datasec %q size=%d */\n", v.TypeName(), v.Size)
		for _, dv := range v.Vars {
			fmt.Fprintf(&b, "/*   type_id=%d offset=%d size=%d */\n", dv.Type, dv.Offset, dv.Size)
		}
		return b.String(), nil

	default:
		// Int, Float, Void, Ptr, Array, Volatile, Const, Restrict,
		// TypeTag, FuncProto, DeclTag: never stand alone as C text.
		return "", nil
	}
}

// compositeBody renders "struct Name {\n\t...\n}" (no trailing ';' or
// '\n', so both the top-level definition and an anonymous nested
// member can finish it the way they each need). When packed is true it
// appends __attribute__((packed)) before that trailing spot, the GCC
// spelling Universe.Layout's packed inference (§4.7) requires a C
// compiler to reproduce the same size/offsets (spec.md Scenario D).
func (u *Universe) compositeBody(name string, kindFlag bool, members []Member, isUnion bool, packed bool) (string, error) {
	kw := "struct"
	if isUnion {
		kw = "union"
	}
	var b strings.Builder
	b.WriteString(kw)
	if name != "" {
		b.WriteString(" " + name)
	}
	b.WriteString(" {\n")
	for _, m := range members {
		line, err := u.renderMember(m, kindFlag)
		if err != nil {
			return "", err
		}
		b.WriteString("\t" + line + ";\n")
	}
	b.WriteString("}")
	if packed {
		b.WriteString(" __attribute__((packed))")
	}
	return b.String(), nil
}

func (u *Universe) renderMember(m Member, outerKindFlag bool) (string, error) {
	mt := u.Get(m.Type)

	var decl string
	if s, ok := mt.(*Struct); ok && s.TypeName() == "" {
		layout, err := u.Layout(s.ID())
		if err != nil {
			return "", err
		}
		body, err := u.compositeBody("", s.KindFlag, s.Members, false, layout.Packed)
		if err != nil {
			return "", err
		}
		decl = body + " " + m.Name
	} else if un, ok := mt.(*Union); ok && un.TypeName() == "" {
		layout, err := u.Layout(un.ID())
		if err != nil {
			return "", err
		}
		body, err := u.compositeBody("", un.KindFlag, un.Members, true, layout.Packed)
		if err != nil {
			return "", err
		}
		decl = body + " " + m.Name
	} else {
		d, err := u.declare(m.Type, m.Name)
		if err != nil {
			return "", err
		}
		decl = d
	}

	if outerKindFlag {
		decl += fmt.Sprintf(" : %d", m.BitWidth)
	}
	return decl, nil
}

// declare builds a C declarator for a value of type id named name,
// e.g. declare(ptrToFuncProtoID, "f") -> "int (*f)(int)". It implements
// the classic "wrap the identifier, recurse inward" declarator
// algorithm (the same shape chibicc's type-to-declarator pass uses):
// each pointer/array/function layer wraps the accumulated name before
// recursing to its target, adding parens only where C precedence
// requires them (a pointer directly followed by an array or function
// layer).
func (u *Universe) declare(id TypeID, name string) (string, error) {
	switch t := u.Get(id).(type) {
	case *Ptr:
		return u.declare(t.Target, "*"+name)

	case *Const:
		inner, err := u.declare(t.Base, name)
		if err != nil {
			return "", err
		}
		return "const " + inner, nil
	case *Volatile:
		inner, err := u.declare(t.Base, name)
		if err != nil {
			return "", err
		}
		return "volatile " + inner, nil
	case *Restrict:
		inner, err := u.declare(t.Base, name)
		if err != nil {
			return "", err
		}
		return "restrict " + inner, nil
	case *TypeTag:
		return u.declare(t.Base, name)

	case *Array:
		n := name
		if strings.HasPrefix(n, "*") {
			n = "(" + n + ")"
		}
		dim := ""
		if t.Nelems > 0 {
			dim = fmt.Sprintf("%d", t.Nelems)
		}
		return u.declare(t.Elem, fmt.Sprintf("%s[%s]", n, dim))

	case *FuncProto:
		n := name
		if strings.HasPrefix(n, "*") {
			n = "(" + n + ")"
		}
		params, err := u.paramsString(t.Params)
		if err != nil {
			return "", err
		}
		return u.declare(t.Return, fmt.Sprintf("%s(%s)", n, params))

	default:
		base, err := u.baseName(t)
		if err != nil {
			return "", err
		}
		if name == "" {
			return base, nil
		}
		return base + " " + name, nil
	}
}

func (u *Universe) baseName(t Type) (string, error) {
	switch v := t.(type) {
	case Void:
		return "void", nil
	case *Int:
		if v.TypeName() != "" {
			return v.TypeName(), nil
		}
		return fmt.Sprintf("/* anon int */ int%d_t", v.Bits), nil
	case *Float:
		switch v.Size {
		case 4:
			return "float", nil
		case 8:
			return "double", nil
		case 16:
			return "long double", nil
		default:
			return v.TypeName(), nil
		}
	case *Struct:
		if v.TypeName() == "" {
			return "", fmt.Errorf("type id %d: anonymous struct referenced by name outside its defining member", v.ID())
		}
		return "struct " + v.TypeName(), nil
	case *Union:
		if v.TypeName() == "" {
			return "", fmt.Errorf("type id %d: anonymous union referenced by name outside its defining member", v.ID())
		}
		return "union " + v.TypeName(), nil
	case *Enum:
		if v.TypeName() == "" {
			return "enum", nil
		}
		return "enum " + v.TypeName(), nil
	case *Enum64:
		if v.TypeName() == "" {
			return "enum", nil
		}
		return "enum " + v.TypeName(), nil
	case *Fwd:
		kw := "struct"
		if v.FwdKind == FwdUnion {
			kw = "union"
		}
		return kw + " " + v.TypeName(), nil
	case *Typedef:
		return v.TypeName(), nil
	default:
		return "", fmt.Errorf("type id %d: kind %v has no base type spelling", t.ID(), t.Kind())
	}
}

func (u *Universe) paramsString(params []FuncParam) (string, error) {
	if len(params) == 0 {
		return "void", nil
	}
	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p.Type == 0 && p.Name == "" {
			parts = append(parts, "...")
			continue
		}
		decl, err := u.declare(p.Type, p.Name)
		if err != nil {
			return "", err
		}
		parts = append(parts, decl)
	}
	return strings.Join(parts, ", "), nil
}
