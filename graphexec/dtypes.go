package graphexec

import (
	"strings"

	"github.com/gomlx/go-xla/pkg/types/dtypes"
	"github.com/pkg/errors"
)

// DTypeByName maps the textual dtype names used in graph descriptions to
// the GoMLX dtype.
func DTypeByName(name string) (dtypes.DType, error) {
	switch strings.ToLower(name) {
	case "float32", "f32":
		return dtypes.Float32, nil
	case "float64", "f64":
		return dtypes.Float64, nil
	case "int8":
		return dtypes.Int8, nil
	case "int16":
		return dtypes.Int16, nil
	case "int32":
		return dtypes.Int32, nil
	case "int64":
		return dtypes.Int64, nil
	case "uint8":
		return dtypes.Uint8, nil
	case "uint16":
		return dtypes.Uint16, nil
	case "uint32":
		return dtypes.Uint32, nil
	case "uint64":
		return dtypes.Uint64, nil
	case "bool":
		return dtypes.Bool, nil
	default:
		return dtypes.InvalidDType, errors.Errorf("unsupported/unknown data type %q", name)
	}
}
