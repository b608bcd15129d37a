package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	val  string
	err  error
	name string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.name = name
	return f.val, f.err
}

func TestToken_JSON(t *testing.T) {
	g := &fakeGetter{val: `{"token":"secret"}`}
	tok, err := Token(context.Background(), g, " /expense-agent/notion-token ")
	require.NoError(t, err)
	require.Equal(t, "secret", tok)
	require.Equal(t, "/expense-agent/notion-token", g.name)
}

func TestToken_Errors(t *testing.T) {
	cases := []struct {
		name   string
		getter Getter
		param  string
		want   string
	}{
		{"nil getter", nil, "p", "nil"},
		{"empty name", &fakeGetter{}, " ", "empty"},
		{"getter error", &fakeGetter{err: errors.New("ssm unavailable")}, "p", "ssm unavailable"},
		{"malformed", &fakeGetter{val: `{"broken`}, "p", "unmarshal"},
		{"missing field", &fakeGetter{val: `{"other":"v"}`}, "p", "is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Token(context.Background(), tc.getter, tc.param)
			require.ErrorContains(t, err, tc.want)
		})
	}
}
