package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func carrier(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProvider_Success(t *testing.T) {
	srv := carrier(t, http.StatusOK, `{"message_id":"c-77"}`, nil)
	p := NewHTTPProvider("alpha", srv.URL, "/send", 0, 0, 0)

	res, err := p.Send(context.Background(), "13800000000", "hi")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "c-77", res.DispatchID)
	assert.Equal(t, "alpha", res.Provider)
}

func TestHTTPProvider_RejectionIsResult(t *testing.T) {
	srv := carrier(t, http.StatusUnprocessableEntity, `{"reason":"blacklisted number"}`, nil)
	p := NewHTTPProvider("alpha", srv.URL, "/send", 0, 0, 0)

	res, err := p.Send(context.Background(), "13800000000", "hi")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "blacklisted number", res.Reason)
	assert.True(t, p.Ready())
}

func TestDispatcher_SingleAttemptByDefault(t *testing.T) {
	var hits atomic.Int32
	bad := carrier(t, http.StatusServiceUnavailable, ``, &hits)
	good := carrier(t, http.StatusOK, `{"message_id":"ok"}`, nil)

	d := NewDispatcher([]Provider{
		NewHTTPProvider("bad", bad.URL, "", 0, 5, 0),
		NewHTTPProvider("good", good.URL, "", 0, 5, 0),
	}, 0)

	_, err := d.Send(context.Background(), "13800000000", "hi")
	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDispatcher_FailoverWhenAllowed(t *testing.T) {
	bad := carrier(t, http.StatusServiceUnavailable, ``, nil)
	good := carrier(t, http.StatusOK, `{"message_id":"ok"}`, nil)

	d := NewDispatcher([]Provider{
		NewHTTPProvider("bad", bad.URL, "", 0, 5, 0),
		NewHTTPProvider("good", good.URL, "", 0, 5, 0),
	}, 2)

	res, err := d.Send(context.Background(), "13800000000", "hi")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "good", res.Provider)
}

func TestDispatcher_SkipsOpenBreakers(t *testing.T) {
	var badHits atomic.Int32
	bad := carrier(t, http.StatusInternalServerError, ``, &badHits)
	good := carrier(t, http.StatusOK, `{"message_id":"ok"}`, nil)

	badProv := NewHTTPProvider("bad", bad.URL, "", 0, 1, 60_000)
	_, _ = badProv.Send(context.Background(), "1", "x")
	require.False(t, badProv.Ready())

	d := NewDispatcher([]Provider{badProv, NewHTTPProvider("good", good.URL, "", 0, 5, 0)}, 1)
	for i := 0; i < 3; i++ {
		res, err := d.Send(context.Background(), "13800000000", "hi")
		require.NoError(t, err)
		assert.Equal(t, "good", res.Provider)
	}
	assert.Equal(t, int32(1), badHits.Load())
}

func TestDispatcher_NoProviders(t *testing.T) {
	_, err := NewDispatcher(nil, 1).Send(context.Background(), "1", "x")
	assert.ErrorIs(t, err, ErrNoHealthy)
}

func TestFake_Script(t *testing.T) {
	f := NewFake()
	f.Script(false)

	r1, _ := f.Send(context.Background(), "p", "c")
	r2, _ := f.Send(context.Background(), "p", "c")
	assert.False(t, r1.Success)
	assert.True(t, r2.Success)
	assert.Len(t, f.Calls(), 2)
}
