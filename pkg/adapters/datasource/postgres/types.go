package postgres

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const dateOID = 1082

// normalizeValue converts pgx driver values into types that marshal cleanly
// to JSON and read naturally in an LLM prompt: NUMERIC becomes float64, UUID
// and BYTEA become strings, DATE becomes YYYY-MM-DD. NaN and infinities become nil.
func normalizeValue(v any, oid uint32) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return finiteOrNil(f.Float64)
	case float64:
		return finiteOrNil(val)
	case float32:
		return finiteOrNil(float64(val))
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return string(val)
	case time.Time:
		if oid == dateOID {
			return val.Format(time.DateOnly)
		}
		return val
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		d := time.Duration(val.Microseconds)*time.Microsecond +
			time.Duration(val.Days)*24*time.Hour
		if val.Months != 0 {
			d += time.Duration(val.Months) * 30 * 24 * time.Hour
		}
		return d.String()
	default:
		return v
	}
}

func finiteOrNil(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// pgTypeNameFromOID maps PostgreSQL type OIDs to human-readable type names.
// This covers the types the sales schema and common aggregates produce;
// unknown types return "UNKNOWN".
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 17:
		return "BYTEA"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 114:
		return "JSON"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 790:
		return "MONEY"
	case 1042:
		return "BPCHAR"
	case 1043:
		return "VARCHAR"
	case dateOID:
		return "DATE"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1186:
		return "INTERVAL"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 3802:
		return "JSONB"
	case 1009:
		return "TEXT[]"
	case 1007:
		return "INT4[]"
	default:
		return "UNKNOWN"
	}
}
