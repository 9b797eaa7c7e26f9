// Package util holds small reflection helpers shared across lib packages.
package util

import "reflect"

// GetUnexportedField reads an unexported struct field by name off obj, which
// must be a pointer to a struct or a struct value. Used sparingly, and only
// where a vendored dependency exposes no public accessor for state we must
// observe (see termexec.StartProcess for the one call site and why).
func GetUnexportedField(obj any, field string) any {
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	f := v.FieldByName(field)
	return reflect.NewAt(f.Type(), f.Addr().UnsafePointer()).Elem().Interface()
}
