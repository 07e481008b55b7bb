package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	goeval "github.com/edisonguo/govaluate"
	"github.com/nci/rastex/processor"
)

var bandVarRegexp = regexp.MustCompile(`^b([1-9][0-9]*)$`)
var namedExprRegexp = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=([^=].*)$`)

// BandExpressions are per-pixel formulas deriving new bands from the bands
// of a read. Variables b1..bN refer to the read's bands in output order.
type BandExpressions struct {
	ExprText    []string
	ExprNames   []string
	Expressions []*goeval.EvaluableExpression
	ExprVarRef  [][]string

	// bandRef holds the 0-based band index of each ExprVarRef entry.
	bandRef [][]int
}

// ParseBandExpressions parses a comma separated list of expressions, each
// optionally named as "name=expr", e.g. "ndvi=(b4-b3)/(b4+b3),b1". An
// unnamed expression is named by its own text.
func ParseBandExpressions(text string) (*BandExpressions, error) {
	bandExpr := &BandExpressions{}
	for _, item := range splitTopLevel(text) {
		item = strings.TrimSpace(item)
		if len(item) == 0 {
			continue
		}

		name, exprText := item, item
		if m := namedExprRegexp.FindStringSubmatch(item); m != nil {
			name, exprText = m[1], strings.TrimSpace(m[2])
		}

		expr, err := goeval.NewEvaluableExpression(exprText)
		if err != nil {
			return nil, fmt.Errorf("band expression '%v': %v", item, err)
		}

		var vars []string
		var bands []int
		seen := make(map[string]bool)
		for _, token := range expr.Tokens() {
			if token.Kind != goeval.VARIABLE {
				continue
			}
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			m := bandVarRegexp.FindStringSubmatch(varName)
			if m == nil {
				return nil, fmt.Errorf("band expression '%v': variable %v is not a band, use b1, b2, ...", item, varName)
			}
			if seen[varName] {
				continue
			}
			seen[varName] = true
			idx, _ := strconv.Atoi(m[1])
			vars = append(vars, varName)
			bands = append(bands, idx-1)
		}

		bandExpr.ExprText = append(bandExpr.ExprText, exprText)
		bandExpr.ExprNames = append(bandExpr.ExprNames, name)
		bandExpr.Expressions = append(bandExpr.Expressions, expr)
		bandExpr.ExprVarRef = append(bandExpr.ExprVarRef, vars)
		bandExpr.bandRef = append(bandExpr.bandRef, bands)
	}

	if len(bandExpr.Expressions) == 0 {
		return nil, fmt.Errorf("no band expressions in '%v'", text)
	}
	return bandExpr, nil
}

// splitTopLevel splits on commas outside parentheses.
func splitTopLevel(text string) []string {
	var parts []string
	depth, start := 0, 0
	for i, c := range text {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, text[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, text[start:])
}

func (be *BandExpressions) Names() []string {
	return be.ExprNames
}

// MaxBand returns the highest 1-based band any expression refers to.
func (be *BandExpressions) MaxBand() int {
	highest := 0
	for _, bands := range be.bandRef {
		for _, b := range bands {
			if b+1 > highest {
				highest = b + 1
			}
		}
	}
	return highest
}

// Evaluate computes every expression over each pixel of bands. All bands
// must have the same size.
func (be *BandExpressions) Evaluate(bands []processor.DecodedBand) ([]*processor.Float64Band, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("band expressions need at least one band")
	}
	width, height := bands[0].Size()
	for i, b := range bands {
		if w, h := b.Size(); w != width || h != height {
			return nil, fmt.Errorf("band %d is %dx%d, expected %dx%d", i, w, h, width, height)
		}
	}

	out := make([]*processor.Float64Band, len(be.Expressions))
	for ix, expr := range be.Expressions {
		for _, b := range be.bandRef[ix] {
			if b >= len(bands) {
				return nil, fmt.Errorf("%w: Eval '%v': b%d requested but the read has %d bands", processor.ErrBandIndex, be.ExprText[ix], b+1, len(bands))
			}
		}

		data := make([]float64, width*height)
		parameters := make(map[string]interface{}, len(be.ExprVarRef[ix]))
		for i := range data {
			for iv, variable := range be.ExprVarRef[ix] {
				parameters[variable] = bands[be.bandRef[ix][iv]].Float64At(i)
			}

			result, err := expr.Evaluate(parameters)
			if err != nil {
				return nil, fmt.Errorf("Eval '%v' error: %v", be.ExprText[ix], err)
			}

			switch val := result.(type) {
			case float64:
				data[i] = val
			case float32:
				data[i] = float64(val)
			default:
				return nil, fmt.Errorf("Failed to cast eval results '%v' to float, %v", result, be.ExprText[ix])
			}
		}
		out[ix] = &processor.Float64Band{Data: data, Width: width, Height: height}
	}
	return out, nil
}
