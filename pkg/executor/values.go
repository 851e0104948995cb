package executor

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// FormatID renders a primary key value as a wire id.
func FormatID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case int64:
		return strconv.FormatInt(id, 10)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case int16:
		return strconv.FormatInt(int64(id), 10)
	case int:
		return strconv.Itoa(id)
	case [16]byte:
		return uuid.UUID(id).String()
	case uuid.UUID:
		return id.String()
	default:
		return fmt.Sprint(v)
	}
}

// normalize converts driver values without a natural JSON form.
func normalize(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case pgtype.Numeric:
		if !val.Valid || val.NaN {
			return nil
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	default:
		return v
	}
}
