package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func specWithPath(serverURL, path, method string) []byte {
	return []byte(`{
		"openapi": "3.0.0",
		"servers": [{"url": "` + serverURL + `"}],
		"paths": {"` + path + `": {"` + method + `": {"responses": {"200": {"description": "ok"}}}}}
	}`)
}

func TestStore_CreateNewEndpoint(t *testing.T) {
	s := New()
	ep, err := s.Create("svc-a", "first service", specWithPath("http://host-a", "/a", "get"))
	require.NoError(t, err)
	require.NotEmpty(t, ep.ID)
	require.Equal(t, StatusRunning, ep.Status)
	require.Len(t, ep.Catalog, 1)
}

func TestStore_CreateSameNameMergesPreservesID(t *testing.T) {
	s := New()
	first, err := s.Create("svc", "", specWithPath("http://host", "/a", "get"))
	require.NoError(t, err)

	second, err := s.Create("svc", "", specWithPath("http://host", "/b", "post"))
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Len(t, second.Catalog, 2)

	list := s.List(1, 10, "", "")
	require.Len(t, list.Records, 1)
}

func TestStore_CreateRejectsCrossEndpointPathConflict(t *testing.T) {
	s := New()
	_, err := s.Create("svc-a", "", specWithPath("http://host", "/v1/x", "post"))
	require.NoError(t, err)

	_, err = s.Create("svc-b", "", specWithPath("http://host", "/v1/x", "post"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "API path '/v1/x' with method 'POST' already exists")
}

func TestStore_DeleteSoftDeletes(t *testing.T) {
	s := New()
	ep, err := s.Create("svc", "", specWithPath("http://host", "/a", "get"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ep.ID))

	got, err := s.Get(ep.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDeleted, got.Status)

	list := s.List(1, 10, "", StatusRunning)
	require.Empty(t, list.Records)
}

func TestStore_DeleteThenCreateSameNameStartsFresh(t *testing.T) {
	s := New()
	first, err := s.Create("svc", "", specWithPath("http://host", "/a", "get"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(first.ID))

	second, err := s.Create("svc", "", specWithPath("http://host", "/c", "get"))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestStore_UpdateForbidsBaseURLButRecompilesSpec(t *testing.T) {
	s := New()
	ep, err := s.Create("svc", "", specWithPath("http://host", "/a", "get"))
	require.NoError(t, err)

	updated, err := s.Update(ep.ID, UpdateFields{
		SpecContent: specWithPath("http://host-new", "/a", "get"),
	})
	require.NoError(t, err)
	require.Equal(t, "http://host-new", updated.BaseURL)
}

func TestStore_UpdateUnknownIDFails(t *testing.T) {
	s := New()
	_, err := s.Update("missing", UpdateFields{Description: strPtr("x")})
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestStore_ListPagination(t *testing.T) {
	s := New()
	for i, name := range []string{"svc-a", "svc-b", "svc-c"} {
		_, err := s.Create(name, "", specWithPath("http://host", "/p"+string(rune('a'+i)), "get"))
		require.NoError(t, err)
	}

	page := s.List(1, 2, "", "")
	require.Len(t, page.Records, 2)
	require.Equal(t, 3, page.Total)
	require.Equal(t, 2, page.TotalPages)

	page2 := s.List(2, 2, "", "")
	require.Len(t, page2.Records, 1)
}

func TestStore_ListSearchMatchesNameOrDescription(t *testing.T) {
	s := New()
	_, err := s.Create("weather-api", "forecasts", specWithPath("http://host", "/a", "get"))
	require.NoError(t, err)
	_, err = s.Create("billing-api", "invoices", specWithPath("http://host", "/b", "get"))
	require.NoError(t, err)

	page := s.List(1, 10, "forecast", "")
	require.Len(t, page.Records, 1)
	require.Equal(t, "weather-api", page.Records[0].Name)
}

func strPtr(s string) *string { return &s }
