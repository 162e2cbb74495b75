package operations

import (
	"iter"
	"reflect"
	"slices"
)

// DerivedKind tags the shape of a Process result
type DerivedKind int

const (
	DerivedNone DerivedKind = iota
	DerivedOne
	DerivedMany
)

func (k DerivedKind) String() string {
	switch k {
	case DerivedOne:
		return "one"
	case DerivedMany:
		return "many"
	}
	return "none"
}

// Derived holds the records produced by Process. The zero value is None.
type Derived struct {
	kind  DerivedKind
	items []Record
}

// None is an empty Process result
func None() Derived {
	return Derived{}
}

// One wraps a single derived record
func One(r Record) Derived {
	return Derived{kind: DerivedOne, items: []Record{r}}
}

// Many wraps an ordered sequence of derived records
func Many(rs ...Record) Derived {
	return Derived{kind: DerivedMany, items: slices.Clone(rs)}
}

// Derive normalizes an arbitrary Process return value. nil and nil
// pointers are None; slices, arrays and record sequences are Many; strings,
// byte slices and everything else are One.
func Derive(v any) Derived {
	switch x := v.(type) {
	case nil:
		return None()
	case Derived:
		return x
	case []Record:
		return Many(x...)
	case iter.Seq[Record]:
		return Many(slices.Collect(x)...)
	case string, []byte:
		return One(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return None()
		}
	case reflect.Slice:
		if rv.IsNil() {
			return None()
		}
		return manyOf(rv)
	case reflect.Array:
		return manyOf(rv)
	}
	return One(v)
}

func manyOf(rv reflect.Value) Derived {
	items := make([]Record, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return Derived{kind: DerivedMany, items: items}
}

// Kind returns the result shape
func (d Derived) Kind() DerivedKind {
	return d.kind
}

// Len returns the number of derived records
func (d Derived) Len() int {
	return len(d.items)
}

// All iterates the derived records in order
func (d Derived) All() iter.Seq[Record] {
	return slices.Values(d.items)
}
