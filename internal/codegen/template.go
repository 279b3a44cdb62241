package codegen

import (
	_ "embed"
	"fmt"
	"io"
	"strings"
	"text/template"
	"unicode"

	"github.com/f0mster/netrpc/pkg/contract"
)

//go:embed template.tmpl
var mainTpl string

var funcMap = template.FuncMap{
	"Escape": func(s string) string {
		return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`)
	},
	"ToCamelCase":  toCamelCase,
	"ToLowerFirst": toLowerFirst,
	"Params":       params,
	"Results":      results,
}

var tpl = template.Must(template.New("contract").Funcs(funcMap).Parse(mainTpl))

// toCamelCase turns snake_case and dotted names into exported Go names.
func toCamelCase(in string) string {
	var b strings.Builder
	upper := true
	for _, r := range in {
		if r == '_' || r == '.' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toLowerFirst(in string) string {
	if in == "" {
		return in
	}
	r := []rune(in)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func goType(message string) string {
	if i := strings.LastIndex(message, "."); i >= 0 {
		message = message[i+1:]
	}
	return "*" + toCamelCase(message)
}

func params(m contract.ProtoMethod) string {
	out := "ctx context.Context, req " + goType(m.Request)
	if m.StreamsRequest {
		out += ", body io.Reader"
	}
	return out
}

func results(m contract.ProtoMethod) string {
	switch {
	case m.Post:
		return "error"
	case m.StreamsReturns:
		return "(io.ReadCloser, error)"
	}
	return fmt.Sprintf("(%s, error)", goType(m.Response))
}

type data struct {
	Source   string
	Package  string
	Services []contract.ProtoService
}

func (d data) UsesIO() bool {
	for _, svc := range d.Services {
		for _, m := range svc.Methods {
			if m.StreamsRequest || (m.StreamsReturns && !m.Post) {
				return true
			}
		}
	}
	return false
}

func render(w io.Writer, d data) error {
	if err := tpl.Execute(w, d); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}
	return nil
}
