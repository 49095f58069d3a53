package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

type mapGetter map[string]string

func (m mapGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", errors.New("param not found: " + name)
	}
	return v, nil
}

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestGetParameter_HappyPath_WithDecryption(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"token":"v"}`), Type: types.ParameterTypeSecureString,
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), " p ")
	require.NoError(t, err)
	require.Equal(t, `{"token":"v"}`, v)
	require.Equal(t, "p", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestEnvName(t *testing.T) {
	require.Equal(t, "OPEN_AI_TOKEN", EnvName("/wa-relay/open-ai-token"))
	require.Equal(t, "VERIFY_TOKEN", EnvName("verify-token"))
}

func TestEnvFirst_PrefersEnvironment(t *testing.T) {
	g := EnvFirst{
		Next:   mapGetter{"/wa-relay/verify-token": "from-ssm"},
		Lookup: lookupFrom(map[string]string{"VERIFY_TOKEN": "from-env"}),
	}
	v, err := g.GetParameter(context.Background(), "/wa-relay/verify-token")
	require.NoError(t, err)
	require.Equal(t, "from-env", v)
}

func TestEnvFirst_FallsBackToNext(t *testing.T) {
	g := EnvFirst{
		Next:   mapGetter{"/wa-relay/verify-token": "from-ssm"},
		Lookup: lookupFrom(map[string]string{"VERIFY_TOKEN": "  "}),
	}
	v, err := g.GetParameter(context.Background(), "/wa-relay/verify-token")
	require.NoError(t, err)
	require.Equal(t, "from-ssm", v)
}

func TestEnvFirst_NoNext(t *testing.T) {
	g := EnvFirst{Lookup: lookupFrom(nil)}
	_, err := g.GetParameter(context.Background(), "/wa-relay/verify-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "VERIFY_TOKEN is not set")
}

func TestFetchToken(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		want    string
		wantErr string
	}{
		{name: "raw", value: " sk-raw \n", want: "sk-raw"},
		{name: "json", value: `{"token":"sk-json"}`, want: "sk-json"},
		{name: "json missing token", value: `{"other":"x"}`, wantErr: "is empty"},
		{name: "malformed json", value: `{"broken`, wantErr: "unmarshal"},
		{name: "blank", value: "   ", wantErr: "is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FetchToken(context.Background(), mapGetter{"/p/t": tc.value}, "/p/t")
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestFetchToken_GetterError(t *testing.T) {
	_, err := FetchToken(context.Background(), mapGetter{}, "/p/missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "param not found")
}

func TestFetchToken_InvalidArgs(t *testing.T) {
	_, err := FetchToken(context.Background(), nil, "/p/t")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")

	_, err = FetchToken(context.Background(), mapGetter{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}
