package plan

import "strings"

// Type is the logical column type seen by plans.
type Type int

const (
	TypeNull Type = iota
	TypeInt
	TypeFloat
	TypeString
	TypeBool
	TypeDate
	TypeTimestamp
	TypeOther
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeInt:
		return "i64"
	case TypeFloat:
		return "f64"
	case TypeString:
		return "str"
	case TypeBool:
		return "bool"
	case TypeDate:
		return "date"
	case TypeTimestamp:
		return "datetime"
	default:
		return "object"
	}
}

func (t Type) Numeric() bool {
	return t == TypeInt || t == TypeFloat
}

func (t Type) Temporal() bool {
	return t == TypeDate || t == TypeTimestamp
}

// SQL returns the DuckDB type used for casts to t.
func (t Type) SQL() string {
	switch t {
	case TypeInt:
		return "BIGINT"
	case TypeFloat:
		return "DOUBLE"
	case TypeString:
		return "VARCHAR"
	case TypeBool:
		return "BOOLEAN"
	case TypeDate:
		return "DATE"
	case TypeTimestamp:
		return "TIMESTAMP"
	default:
		return ""
	}
}

// ParseType accepts the dtype names models tend to write.
func ParseType(name string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int", "i64", "int64", "i32", "int32", "integer", "bigint":
		return TypeInt, true
	case "float", "f64", "float64", "f32", "float32", "double":
		return TypeFloat, true
	case "str", "string", "utf8", "varchar", "text":
		return TypeString, true
	case "bool", "boolean":
		return TypeBool, true
	case "date":
		return TypeDate, true
	case "datetime", "timestamp":
		return TypeTimestamp, true
	default:
		return TypeOther, false
	}
}

// TypeFromDuckDB maps a DuckDB column type name to a plan type.
func TypeFromDuckDB(dbType string) Type {
	upper := strings.ToUpper(strings.TrimSpace(dbType))
	switch {
	case upper == "NULL" || upper == "":
		return TypeNull
	case upper == "BOOLEAN" || upper == "BOOL":
		return TypeBool
	case upper == "DATE":
		return TypeDate
	case strings.HasPrefix(upper, "TIMESTAMP"):
		return TypeTimestamp
	case strings.HasPrefix(upper, "DECIMAL"), strings.HasPrefix(upper, "NUMERIC"):
		return TypeFloat
	case strings.HasSuffix(upper, "[]"), strings.HasPrefix(upper, "STRUCT"), strings.HasPrefix(upper, "MAP"):
		return TypeOther
	}
	switch upper {
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "UHUGEINT":
		return TypeInt
	case "FLOAT", "REAL", "DOUBLE":
		return TypeFloat
	case "VARCHAR", "TEXT", "STRING", "UUID", "ENUM":
		return TypeString
	default:
		return TypeOther
	}
}
