package btf

import "golang.org/x/exp/constraints"

// Small generic numeric helpers used by the layout computer, the same
// reason the teacher's parser/types.go reaches for
// golang.org/x/exp/constraints instead of duplicating these per
// integer width.

func alignUp[T constraints.Integer](x, align T) T {
	if align <= 1 {
		return x
	}
	return (x + align - 1) / align * align
}

func maxOf[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

func minOf[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}
