package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/shutter/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Options{Endpoint: srv.URL + "/users/search", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestSearch_Success(t *testing.T) {
	var gotPath, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"users":[{"id":1,"firstName":"John","lastName":"Doe","username":"johnd","gender":"male","image":"https://img/1.png"}],"total":1}`)
	})

	users, err := c.Search(t.Context(), "john doe&x")
	require.NoError(t, err)
	require.Equal(t, "/users/search", gotPath)
	require.Equal(t, "john doe&x", gotQuery)
	require.Len(t, users, 1)
	require.Equal(t, UserSummary{ID: 1, FirstName: "John", LastName: "Doe", Username: "johnd", Gender: "male", Image: "https://img/1.png"}, users[0])
	require.Equal(t, "John Doe", users[0].DisplayName())
	require.Equal(t, "@johnd", users[0].Handle())
}

func TestSearch_EmptyUsers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total":0}`)
	})

	users, err := c.Search(t.Context(), "nobody")
	require.NoError(t, err)
	require.NotNil(t, users)
	require.Empty(t, users)
}

func TestSearch_Non2xx(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.Search(t.Context(), "john")
	require.True(t, errors.Is(err, errors.ErrNetworkFailed))
}

func TestSearch_BadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"users": [`)
	})

	_, err := c.Search(t.Context(), "john")
	require.True(t, errors.Is(err, errors.ErrNetworkFailed))
}

func TestSearch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c, err := New(Options{Endpoint: endpoint, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.Search(t.Context(), "john")
	require.True(t, errors.Is(err, errors.ErrNetworkFailed))
}

func TestSearch_CallerCancelled(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, `{"users":[]}`)
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Search(ctx, "slow")
	require.True(t, errors.Is(err, errors.ErrNetworkFailed))
}

func TestSearch_CollapsesInFlightDuplicates(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		fmt.Fprint(w, `{"users":[{"id":7,"username":"emily"}]}`)
	})

	var wg sync.WaitGroup
	results := make([][]UserSummary, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			users, err := c.Search(t.Context(), "emily")
			assert.NoError(t, err)
			results[i] = users
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, users := range results {
		require.Len(t, users, 1)
		require.Equal(t, 7, users[0].ID)
	}
}

func TestNew_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"not a url", "ftp://example.com/search", "http://"} {
		_, err := New(Options{Endpoint: endpoint})
		require.True(t, errors.Is(err, errors.ErrInvalidRequest), endpoint)
	}
}

func TestNew_DefaultEndpoint(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	require.Equal(t, DefaultEndpoint, c.Endpoint())
}

func TestUserSummary_Helpers(t *testing.T) {
	u := UserSummary{FirstName: "Ada"}
	require.Equal(t, "Ada", u.DisplayName())
	require.Equal(t, "", u.Handle())
}
