package upsert

import (
	"fmt"
	"strconv"
	"strings"
)

// Render returns the statement with every $parameter replaced by a Cypher
// literal, for dry-run scripts and logs. Strings are single-quoted with
// backslash and quote characters escaped, so the literal always denotes the
// original value.
func (o Op) Render() string {
	var b strings.Builder
	s := o.Cypher
	for i := 0; i < len(s); i++ {
		if s[i] != '$' {
			b.WriteByte(s[i])
			continue
		}
		j := i + 1
		for j < len(s) && isParamByte(s[j]) {
			j++
		}
		name := s[i+1 : j]
		v, ok := o.Params[name]
		if name == "" || !ok {
			b.WriteString(s[i:j])
		} else {
			b.WriteString(Literal(v))
		}
		i = j - 1
	}
	return b.String()
}

func isParamByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Literal formats v as a Cypher literal.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []string:
		parts := make([]string, len(x))
		for i, s := range x {
			parts[i] = Quote(s)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return Quote(fmt.Sprint(x))
	}
}

var quoteReplacer = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

// Quote returns s as a single-quoted Cypher string literal.
func Quote(s string) string {
	return "'" + quoteReplacer.Replace(s) + "'"
}
