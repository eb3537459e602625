package paramstore

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests. Path pages are
// served in order, each linked to the next by its index as the token.
type fakeAPI struct {
	getOut     *ssm.GetParameterOutput
	getErr     error
	lastGetIn  *ssm.GetParameterInput
	pages      [][]types.Parameter
	pathErr    error
	pathInputs []*ssm.GetParametersByPathInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastGetIn = in
	return f.getOut, f.getErr
}

func (f *fakeAPI) GetParametersByPath(_ context.Context, in *ssm.GetParametersByPathInput, _ ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	f.pathInputs = append(f.pathInputs, in)
	if f.pathErr != nil {
		return nil, f.pathErr
	}
	idx := 0
	if in.NextToken != nil {
		idx, _ = strconv.Atoi(*in.NextToken)
	}
	out := &ssm.GetParametersByPathOutput{}
	if idx < len(f.pages) {
		out.Parameters = f.pages[idx]
	}
	if idx+1 < len(f.pages) {
		out.NextToken = strPtr(strconv.Itoa(idx + 1))
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"k":"v"}`),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
	require.True(t, *api.lastGetIn.WithDecryption)
}

func TestGetParameter_HappyPath_SecureString(t *testing.T) {
	typeStr := "SecureString"
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"k":"v"}`), Type: types.ParameterType(typeStr),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
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
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	api := &fakeAPI{}
	client, err := New(api)
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

func param(name, value string) types.Parameter {
	return types.Parameter{Name: strPtr(name), Value: strPtr(value)}
}

func TestGetParametersByPath_FollowsPagesAndSortsByName(t *testing.T) {
	api := &fakeAPI{pages: [][]types.Parameter{
		{param("/c/catalog/part-2", "two"), param("/c/catalog/part-0", "zero")},
		{param("/c/catalog/part-1", "one")},
	}}
	client, err := New(api)
	require.NoError(t, err)

	values, err := client.GetParametersByPath(context.Background(), " /c/catalog/ ")
	require.NoError(t, err)
	require.Equal(t, []string{"zero", "one", "two"}, values)
	require.Len(t, api.pathInputs, 2)
	require.Equal(t, "/c/catalog/", *api.pathInputs[0].Path)
	require.True(t, *api.pathInputs[0].WithDecryption)
	require.False(t, *api.pathInputs[0].Recursive)
}

func TestGetParametersByPath_Empty(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	values, err := client.GetParametersByPath(context.Background(), "/c/catalog/")
	require.NoError(t, err)
	require.Empty(t, values)
}

func TestGetParametersByPath_MissingValue(t *testing.T) {
	api := &fakeAPI{pages: [][]types.Parameter{{{Name: strPtr("/c/catalog/a")}}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParametersByPath(context.Background(), "/c/catalog/")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParametersByPath_ApiError(t *testing.T) {
	client, err := New(&fakeAPI{pathErr: errors.New("AccessDenied")})
	require.NoError(t, err)
	_, err = client.GetParametersByPath(context.Background(), "/c/catalog/")
	require.ErrorContains(t, err, "AccessDenied")
}

func TestGetParametersByPath_Validation(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParametersByPath(context.Background(), " ")
	require.ErrorContains(t, err, "path is required")

	_, err = (&Client{}).GetParametersByPath(context.Background(), "/c")
	require.ErrorContains(t, err, "not initialized")
}
