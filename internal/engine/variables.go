package engine

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/wesleyorama2/vurun/internal/extract"
	"github.com/wesleyorama2/vurun/internal/vu"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([\w.-]+)\s*\}\}`)

// resolveVariables replaces {{name}} placeholders. Values come from the
// user's variables (extracted or saved by earlier steps), then the script
// parameters, then the built-ins baseUrl, vu and iteration. Unknown
// placeholders are left untouched.
func (c *compiler) resolveVariables(ctx *vu.Context, input string) string {
	if input == "" {
		return input
	}
	return placeholderRe.ReplaceAllStringFunc(input, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := lookupVariable(ctx, name); ok {
			return v
		}
		if v, ok := ctx.Param(name); ok {
			return v
		}
		switch name {
		case "baseUrl":
			return c.baseURL
		case "vu":
			return strconv.Itoa(ctx.UserID())
		case "iteration":
			return strconv.FormatInt(ctx.Iteration(), 10)
		}
		return m
	})
}

func (c *compiler) resolveMap(ctx *vu.Context, in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = c.resolveVariables(ctx, v)
	}
	return out
}

func lookupVariable(ctx *vu.Context, name string) (string, bool) {
	v, ok := ctx.GetData(name)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case extract.Value:
		return val.String(), true
	default:
		return fmt.Sprintf("%v", val), true
	}
}

// storeExtracted saves extractor results as variables. A miss clears the
// variable so values from an earlier iteration do not leak.
func storeExtracted(ctx *vu.Context, values map[string]extract.Value) {
	for name, v := range values {
		switch {
		case v.IsNull():
			ctx.SetData(name, "")
		case v.IsMulti():
			ctx.SetData(name, v)
		default:
			ctx.SetData(name, v.String())
		}
	}
}
