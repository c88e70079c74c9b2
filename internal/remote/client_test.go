package remote_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadvault/internal/httpapi"
	"cadvault/internal/pdm"
	"cadvault/internal/remote"
	"cadvault/internal/testutil"
)

var (
	alice = pdm.LockHolder{UserID: "alice", DeviceID: "ws-01"}
	bob   = pdm.LockHolder{UserID: "bob", DeviceID: "ws-02"}
)

func newClient(t *testing.T, admins ...string) *remote.Client {
	t.Helper()
	srv := testutil.NewTestServer(t, testutil.FixedClock(), admins...)
	ts := httptest.NewServer(httpapi.NewRouter(srv, nil, nil))
	t.Cleanup(ts.Close)

	c, err := remote.New(ts.URL, 5*time.Second, pdm.Requestor{UserID: "alice", DeviceID: "ws-01"}, nil)
	require.NoError(t, err)
	return c
}

func put(t *testing.T, c *remote.Client, path, content string, holder pdm.LockHolder) *pdm.ServerFileRecord {
	t.Helper()
	rec, err := c.Checkin(context.Background(), pdm.CheckinRequest{
		Path:        path,
		Holder:      holder,
		ContentHash: testutil.SHA256Hex([]byte(content)),
		Size:        int64(len(content)),
		Comment:     "initial",
	}, bytes.NewBufferString(content))
	require.NoError(t, err)
	return rec
}

func TestNew_RejectsBadURL(t *testing.T) {
	t.Parallel()
	_, err := remote.New("not a url", 0, pdm.Requestor{}, nil)
	assert.Error(t, err)
}

func TestClient_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newClient(t)

	rec := put(t, c, "parts/bracket.sldprt", "solid body", alice)
	assert.Equal(t, int64(1), rec.Version)

	got, err := c.GetRecord(ctx, "parts/bracket.sldprt")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	byID, err := c.GetRecordByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "parts/bracket.sldprt", byID.RelativePath)

	list, err := c.ListRecords(ctx, "parts")
	require.NoError(t, err)
	require.Len(t, list, 1)

	var buf bytes.Buffer
	dl, err := c.Download(ctx, "parts/bracket.sldprt", &buf)
	require.NoError(t, err)
	assert.Equal(t, "solid body", buf.String())
	assert.Equal(t, rec.ContentHash, dl.ContentHash)

	hist, err := c.History(ctx, "parts/bracket.sldprt")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "initial", hist[0].Comment)
}

func TestClient_LockLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newClient(t)
	put(t, c, "a.dwg", "v1", alice)

	rec, err := c.Checkout(ctx, pdm.CheckoutRequest{Path: "a.dwg", Holder: alice})
	require.NoError(t, err)
	assert.Equal(t, alice, rec.Holder())

	_, err = c.Checkout(ctx, pdm.CheckoutRequest{Path: "a.dwg", Holder: bob})
	var lc *pdm.LockConflict
	require.ErrorAs(t, err, &lc)
	assert.Equal(t, alice, lc.Holder)
	assert.Equal(t, "a.dwg", lc.Path)

	_, err = c.Release(ctx, "a.dwg", bob)
	assert.ErrorIs(t, err, pdm.ErrNotLockHolder)

	rec, err = c.Release(ctx, "a.dwg", alice)
	require.NoError(t, err)
	assert.True(t, rec.Holder().IsZero())
}

func TestClient_ErrorMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newClient(t, "carol")
	put(t, c, "a.dwg", "v1", alice)
	put(t, c, "b.dwg", "v1", alice)

	_, err := c.GetRecord(ctx, "missing.dwg")
	assert.ErrorIs(t, err, pdm.ErrNotFound)

	var buf bytes.Buffer
	_, err = c.Download(ctx, "missing.dwg", &buf)
	assert.ErrorIs(t, err, pdm.ErrNotFound)

	_, err = c.ForceRelease(ctx, "a.dwg", pdm.Requestor{UserID: "alice", Role: pdm.RoleAdmin})
	var pd *pdm.PermissionDenied
	require.ErrorAs(t, err, &pd)
	assert.True(t, pdm.IsTerminal(err))

	_, err = c.ForceRelease(ctx, "a.dwg", pdm.Requestor{UserID: "carol"})
	assert.NoError(t, err)

	_, err = c.Move(ctx, "a.dwg", "b.dwg", pdm.Requestor{UserID: "alice"})
	assert.ErrorIs(t, err, pdm.ErrAlreadyExists)

	_, err = c.Checkin(ctx, pdm.CheckinRequest{
		Path:        "c.dwg",
		Holder:      alice,
		ContentHash: testutil.SHA256Hex([]byte("declared")),
		Size:        8,
	}, bytes.NewBufferString("tampered"))
	assert.ErrorIs(t, err, pdm.ErrHashMismatch)
}

func TestClient_DeleteAndMove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newClient(t)
	rec := put(t, c, "old.dwg", "v1", alice)

	moved, err := c.Move(ctx, "old.dwg", "new.dwg", pdm.Requestor{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, moved.ID)

	require.NoError(t, c.Delete(ctx, "new.dwg", pdm.Requestor{UserID: "alice"}))
	_, err = c.GetRecord(ctx, "new.dwg")
	assert.ErrorIs(t, err, pdm.ErrNotFound)
}

func TestClient_NetworkError(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c, err := remote.New(url, time.Second, pdm.Requestor{UserID: "alice"}, nil)
	require.NoError(t, err)

	_, err = c.ListRecords(context.Background(), "")
	var ne *pdm.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.ErrorIs(t, err, pdm.ErrNetwork)
	assert.False(t, pdm.IsTerminal(err))
}

func TestClient_UnavailableIsNetworkError(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(ts.Close)

	c, err := remote.New(ts.URL, time.Second, pdm.Requestor{UserID: "alice"}, nil)
	require.NoError(t, err)

	_, err = c.GetRecord(context.Background(), "a.dwg")
	assert.ErrorIs(t, err, pdm.ErrNetwork)
}
