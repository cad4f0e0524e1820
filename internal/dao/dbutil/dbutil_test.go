package dbutil

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParamSummary(t *testing.T) {
	var nilPtr *int32
	cases := []struct {
		name string
		v    any
		want string
	}{
		{"nil", nil, "p=null"},
		{"nil pointer", nilPtr, "p=null"},
		{"empty string", "", "p=empty"},
		{"string", "secret", "p=len=6"},
		{"bytes", []byte{1, 2, 3}, "p=len=3"},
		{"int32", int32(42), "p=42"},
		{"uint32", uint32(7), "p=7"},
		{"bool", true, "p=true"},
		{"zero time", time.Time{}, "p=zero-time"},
		{"time", time.Now(), "p=non-zero-time"},
		{"null string", sql.NullString{}, "p=null"},
		{"null int", sql.NullInt64{Int64: 5, Valid: true}, "p=5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ParamSummary("p", tc.v))
		})
	}
}

func TestErrWrap(t *testing.T) {
	require.NoError(t, ErrWrap("op", nil))

	base := errors.New("boom")
	err := ErrWrap("export.batch", base, ParamSummary("type", "CI"), ParamSummary("batch", 3))
	require.True(t, errors.Is(err, base))
	require.Equal(t, "export.batch: boom; type=len=2,batch=3", err.Error())
}
