package instructor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExactlyOne(t *testing.T) {
	_, err := ExactlyOne(nil)
	require.ErrorIs(t, err, ErrNoEmployment)

	e, err := ExactlyOne([]Employment{{PersonKey: "A", TitleCode: "1100"}})
	require.NoError(t, err)
	require.Equal(t, "1100", e.TitleCode)

	_, err = ExactlyOne([]Employment{{PersonKey: "A", TitleCode: "1100"}, {PersonKey: "A", TitleCode: "3200"}})
	require.ErrorIs(t, err, ErrAmbiguousEmployment)
}

func TestValidateClinical(t *testing.T) {
	titles := map[string]string{"1100": "Professor", "3200": "Lecturer"}

	_, err := ValidateClinical(nil, titles)
	require.ErrorIs(t, err, ErrNoEmployment)

	_, err = ValidateClinical([]Employment{{TitleCode: "9999"}}, titles)
	require.ErrorIs(t, err, ErrUnknownTitle)

	e, err := ValidateClinical([]Employment{
		{TitleCode: "3200", DeptCode: "VME"},
		{TitleCode: "1100", DeptCode: "PMI"},
		{TitleCode: "9999", DeptCode: "APC", Primary: true},
	}, titles)
	require.NoError(t, err)
	require.Equal(t, "1100", e.TitleCode)

	e, err = ValidateClinical([]Employment{
		{TitleCode: "1100", DeptCode: "PMI"},
		{TitleCode: "3200", DeptCode: "VME", Primary: true},
	}, titles)
	require.NoError(t, err)
	require.Equal(t, "VME", e.DeptCode)
}

func TestPreferPrimary(t *testing.T) {
	_, err := PreferPrimary(nil)
	require.ErrorIs(t, err, ErrNoEmployment)

	e, err := PreferPrimary([]Employment{
		{TitleCode: "3200", DeptCode: "VME"},
		{TitleCode: "9999", DeptCode: "APC", Primary: true},
	})
	require.NoError(t, err)
	require.Equal(t, "APC", e.DeptCode)

	e, err = PreferPrimary([]Employment{{TitleCode: "3200"}, {TitleCode: "1100"}})
	require.NoError(t, err)
	require.Equal(t, "1100", e.TitleCode)
}
