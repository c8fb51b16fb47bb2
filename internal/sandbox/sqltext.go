package sandbox

import (
	"fmt"
	"strings"
)

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func call(name string, args ...string) string {
	return name + "(" + strings.Join(args, ", ") + ")"
}

func castTo(sqlText, typ string) string {
	return fmt.Sprintf("CAST(%s AS %s)", sqlText, typ)
}

func child(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

func element(path, field string, i int) string {
	return indexed(child(path, field), i)
}

func indexed(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}
