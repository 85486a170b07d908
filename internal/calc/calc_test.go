package calc

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"1+2", "3"},
		{"5000 * 4", "20000"},
		{"2 + 3 * 4", "14"},
		{"(2 + 3) * 4", "20"},
		{"10 - 4 - 3", "3"},
		{"-3 + 5", "2"},
		{"-(2 + 3)", "-5"},
		{"7 ÷ 2", "3.5"},
		{"6 × 1.5", "9"},
		{"1 / 3", "0.33333333"},
		{"0.1 + 0.2", "0.3"},
		{"  42  ", "42"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := Eval(tc.expr)
			require.NoError(t, err)
			assert.Truef(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestEvalRejectsNonArithmetic(t *testing.T) {
	for _, expr := range []string{
		"",
		"2 +",
		"(1 + 2",
		"1 + 2)",
		"alert(1)",
		"process.exit()",
		"1.2.3",
		"2 ** 3",
		"1; 2",
	} {
		_, err := Eval(expr)
		assert.ErrorIsf(t, err, ErrSyntax, "expression %q", expr)
	}
}

func TestEvalDivisionByZero(t *testing.T) {
	_, err := Eval("5 / (3 - 3)")
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestEvalDepthLimit(t *testing.T) {
	expr := ""
	for range 100 {
		expr += "("
	}
	expr += "1"
	for range 100 {
		expr += ")"
	}
	_, err := Eval(expr)
	require.ErrorIs(t, err, ErrSyntax)
}
