package diff

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	odiff "github.com/r3labs/diff/v3"
)

// GetCustomDiffer compares uuid.UUID as a single value instead of 16 bytes.
func GetCustomDiffer() *odiff.Differ {
	ret, err := odiff.NewDiffer(odiff.CustomValueDiffers(&UUIDComparer{}), odiff.SliceOrdering(false))
	if err != nil {
		panic(err)
	}
	return ret
}

type UUIDComparer struct{}

var (
	uuidType = reflect.TypeOf(uuid.UUID{})
)

// Match reports whether this differ handles the pair.
func (c UUIDComparer) Match(a, b reflect.Value) bool {
	aok := a.Kind() == uuidType.Kind() && a.Type() == uuidType
	bok := b.Kind() == uuidType.Kind() && b.Type() == uuidType
	return (aok && bok) || (a.Kind() == reflect.Invalid && bok) || (b.Kind() == reflect.Invalid && aok)
}

func (c UUIDComparer) Diff(_ odiff.DiffType, _ odiff.DiffFunc, cl *odiff.Changelog, path []string, a reflect.Value, b reflect.Value, _ interface{}) error {
	valA := reflect.Indirect(a)
	valB := reflect.Indirect(b)

	// one side missing
	if !valA.IsValid() || !valB.IsValid() {
		if valA.IsValid() != valB.IsValid() {
			var from, to interface{}
			if valA.IsValid() {
				from = valA.Interface()
			}
			if valB.IsValid() {
				to = valB.Interface()
			}
			cl.Add(odiff.UPDATE, path, from, to)
		}
		return nil
	}

	u1 := valA.Interface().(uuid.UUID)
	u2 := valB.Interface().(uuid.UUID)
	if u1 != u2 {
		cl.Add(odiff.UPDATE, path, u1, u2)
	}
	return nil
}

// InsertParentDiffer is a no-op, uuid is a leaf.
func (c UUIDComparer) InsertParentDiffer(_ func(path []string, a reflect.Value, b reflect.Value, p interface{}) error) {
}

// Changes renders the field changes from a to b, one line per change,
// e.g. "update Selected.1: <nil> -> 42". a and b must share a type.
func Changes(a, b interface{}) ([]string, error) {
	cl, err := GetCustomDiffer().Diff(a, b)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(cl))
	for _, c := range cl {
		out = append(out, fmt.Sprintf("%s %s: %v -> %v", c.Type, strings.Join(c.Path, "."), c.From, c.To))
	}
	return out, nil
}
