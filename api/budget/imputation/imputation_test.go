package imputation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(n int) *int { return &n }

func fullComponents() Components {
	return Components{
		Objectif:      intp(3),
		Action:        intp(1),
		Activite:      intp(12),
		SousActivite:  intp(4),
		Direction:     intp(7),
		NatureDepense: intp(6),
		NBE:           "621100",
	}
}

func TestBuildWithAction(t *testing.T) {
	res := Build(fullComponents())
	require.True(t, res.IsValid())
	assert.Equal(t, "030101204076621100", res.Code)
	assert.Len(t, res.Code, Len18)
	assert.Equal(t, "03", res.Code[0:2])
	assert.Equal(t, "01", res.Code[2:4])
	assert.Equal(t, "012", res.Code[4:7])
	assert.Equal(t, "04", res.Code[7:9])
	assert.Equal(t, "07", res.Code[9:11])
	assert.Equal(t, "6", res.Code[11:12])
	assert.Equal(t, "621100", res.Code[12:18])
	assert.Equal(t, Format18, res.Format)
}

func TestBuildWithoutAction(t *testing.T) {
	c := fullComponents()
	c.Action = nil
	res := Build(c)
	require.True(t, res.IsValid())
	assert.Len(t, res.Code, Len17)
	assert.Equal(t, Format17, res.Format)
	assert.Equal(t, "0301204076621100", res.Code)
}

func TestBuildEnumeratesEveryMissingComponent(t *testing.T) {
	res := Build(Components{})
	assert.False(t, res.IsValid())
	assert.Empty(t, res.Code)
	assert.Len(t, res.Errors, 6)
	assert.Contains(t, res.Errors, "OS manquant")
	assert.Contains(t, res.Errors, "Activité manquante")
	assert.Contains(t, res.Errors, "Sous-activité manquante")
	assert.Contains(t, res.Errors, "Direction manquante")
	assert.Contains(t, res.Errors, "Nature de dépense manquante")
	assert.Contains(t, res.Errors, "NBE manquant")
}

func TestBuildDeterministic(t *testing.T) {
	a := Build(fullComponents())
	b := Build(fullComponents())
	assert.Equal(t, a, b)
}

func TestLiteralCrossCheckMismatch(t *testing.T) {
	c := fullComponents()
	c.CodeLitteral = "99 01 012 04 07 6 621100"
	res := Build(c)
	assert.False(t, res.IsValid())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "différente")
	assert.Contains(t, res.Errors[0], res.Code)
}

func TestLiteralCrossCheckMatchIgnoresSeparators(t *testing.T) {
	c := fullComponents()
	base := Build(c)
	c.CodeLitteral = base.Code[:2] + " " + base.Code[2:]
	res := Build(c)
	assert.True(t, res.IsValid())
	assert.Equal(t, base.Code, res.Code)
	assert.Empty(t, res.Warnings)
}

func TestLiteralFallbackWarnsNeverErrorsOnItsOwn(t *testing.T) {
	c := Components{CodeLitteral: "030101204076621100"}
	res := Build(c)
	assert.Equal(t, "030101204076621100", res.Code)
	assert.Equal(t, Format18, res.Format)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "littéral")
	// missing components are still reported separately
	assert.Len(t, res.Errors, 6)
}

func TestNormalizeIdempotent(t *testing.T) {
	in := "03-01 012.04/07 6 621100"
	once := Normalize(in)
	assert.Equal(t, once, Normalize(once))
	assert.Equal(t, "030101204076621100", once)
}

func TestNormalizeNBE(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"621100", "621100"},
		{"621100 : Achats de fournitures", "621100"},
		{"6211:libellé", "006211"},
		{"62110099", "621100"},
		{"  42 ", "000042"},
	}
	for _, tc := range cases {
		got, err := NormalizeNBE(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Len(t, got, NBELength)
	}

	_, err := NormalizeNBE("n/a")
	assert.Error(t, err)
}

func TestParseComponentCode(t *testing.T) {
	n, ok := ParseComponentCode("03 - Transport urbain")
	require.True(t, ok)
	assert.Equal(t, 3, n)

	n, ok = ParseComponentCode("12")
	require.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = ParseComponentCode("Transport")
	assert.False(t, ok)

	_, ok = ParseComponentCode("")
	assert.False(t, ok)
}

func TestPadCode(t *testing.T) {
	assert.Equal(t, "03", PadCode(3, 2))
	assert.Equal(t, "012", PadCode(12, 3))
	assert.Equal(t, "123", PadCode(123, 2)) // never truncates
}
