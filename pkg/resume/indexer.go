package resume

import (
	"crypto/md5" //nolint:gosec // used only as a composite-key index, not for security
	"fmt"
	"reflect"
)

// compositeIndexer builds a composite go-memdb index out of several string
// fields of a struct, so a table can be looked up by e.g. (DataSource,
// RecordID) or RelatedID in one shot. Adapted from the
// teacher's indexers.MD5FieldsIndexer: same field-concatenation-then-hash
// mechanics, renamed to match the résumé store's vocabulary and taught to
// work over int64 fields (entity ids) as well as strings.
type compositeIndexer struct {
	Fields []string
}

func (c *compositeIndexer) FromObject(obj interface{}) (bool, []byte, error) {
	v := reflect.ValueOf(obj)
	var parts []string
	for _, field := range c.Fields {
		fv := v.FieldByName(field)
		if !fv.IsValid() {
			return false, nil, fmt.Errorf("resume: field %q not found on %T", field, obj)
		}
		s, ok := stringify(fv)
		if !ok {
			return false, nil, fmt.Errorf("resume: field %q on %T is nil", field, obj)
		}
		if s == "" {
			return false, nil, nil
		}
		parts = append(parts, s)
	}
	return true, sum(parts), nil
}

func (c *compositeIndexer) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != len(c.Fields) {
		return nil, fmt.Errorf("resume: expected %d args, got %d", len(c.Fields), len(args))
	}
	var parts []string
	for _, a := range args {
		switch t := a.(type) {
		case string:
			if t == "" {
				return nil, fmt.Errorf("resume: empty string argument")
			}
			parts = append(parts, t)
		case int64:
			parts = append(parts, fmt.Sprintf("%d", t))
		default:
			return nil, fmt.Errorf("resume: unsupported argument type %T", a)
		}
	}
	return sum(parts), nil
}

func stringify(v reflect.Value) (string, bool) {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return "", false
		}
		return stringify(v.Elem())
	case reflect.String:
		return v.String(), true
	case reflect.Int64, reflect.Int:
		return fmt.Sprintf("%d", v.Int()), true
	default:
		return "", false
	}
}

func sum(parts []string) []byte {
	h := md5.New() //nolint:gosec
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return h.Sum(nil)
}
