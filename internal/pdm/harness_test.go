package pdm_test

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cadvault/internal/pdm"
	"cadvault/internal/testutil"
)

// flakyServer wraps a real server and can simulate an outage or hold a
// listing open until released.
type flakyServer struct {
	pdm.Server
	down atomic.Bool
	// corrupt appends stray bytes to every download.
	corrupt atomic.Bool

	mu       sync.Mutex
	hold     chan struct{}
	entered  chan struct{}
	checkins []string
}

func (s *flakyServer) fail(op string) error {
	if s.down.Load() {
		return &pdm.NetworkError{Op: op, Err: io.ErrUnexpectedEOF}
	}
	return nil
}

// holdListing makes the next ListRecords block until the returned func is
// called. The returned channel closes once the listing has started.
func (s *flakyServer) holdListing() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = make(chan struct{})
	s.entered = make(chan struct{})
	hold := s.hold
	return s.entered, func() { close(hold) }
}

func (s *flakyServer) ListRecords(ctx context.Context, prefix string) ([]*pdm.ServerFileRecord, error) {
	s.mu.Lock()
	hold, entered := s.hold, s.entered
	s.hold, s.entered = nil, nil
	s.mu.Unlock()
	if hold != nil {
		close(entered)
		<-hold
	}
	if err := s.fail("list"); err != nil {
		return nil, err
	}
	return s.Server.ListRecords(ctx, prefix)
}

func (s *flakyServer) GetRecord(ctx context.Context, path string) (*pdm.ServerFileRecord, error) {
	if err := s.fail("get"); err != nil {
		return nil, err
	}
	return s.Server.GetRecord(ctx, path)
}

func (s *flakyServer) Checkout(ctx context.Context, req pdm.CheckoutRequest) (*pdm.ServerFileRecord, error) {
	if err := s.fail("checkout"); err != nil {
		return nil, err
	}
	return s.Server.Checkout(ctx, req)
}

func (s *flakyServer) Checkin(ctx context.Context, req pdm.CheckinRequest, content io.Reader) (*pdm.ServerFileRecord, error) {
	if err := s.fail("checkin"); err != nil {
		return nil, err
	}
	rec, err := s.Server.Checkin(ctx, req, content)
	if err == nil {
		s.mu.Lock()
		s.checkins = append(s.checkins, req.Path)
		s.mu.Unlock()
	}
	return rec, err
}

// checkedIn lists the paths of successful check-ins in arrival order.
func (s *flakyServer) checkedIn() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.checkins...)
}

func (s *flakyServer) Download(ctx context.Context, path string, w io.Writer) (*pdm.ServerFileRecord, error) {
	if err := s.fail("download"); err != nil {
		return nil, err
	}
	rec, err := s.Server.Download(ctx, path, w)
	if err == nil && s.corrupt.Load() {
		_, err = io.WriteString(w, "stray bytes")
	}
	return rec, err
}

var (
	alice       = pdm.Session{OrgID: testutil.TestOrg, UserID: "alice", DeviceID: "laptop", DeviceName: "alice-laptop", Role: pdm.RoleMember}
	aliceDesk   = pdm.Session{OrgID: testutil.TestOrg, UserID: "alice", DeviceID: "desk", DeviceName: "alice-desk", Role: pdm.RoleMember}
	bob         = pdm.Session{OrgID: testutil.TestOrg, UserID: "bob", DeviceID: "ws-1", DeviceName: "bob-ws", Role: pdm.RoleMember}
	carol       = pdm.Session{OrgID: testutil.TestOrg, UserID: "carol", DeviceID: "ws-9", DeviceName: "carol-ws", Role: pdm.RoleAdmin}
	yes         = pdm.Args{AssumeYes: true}
	testTimeout = 5 * time.Second
)

// client is one user's workstation: its own vault root, journal and queue
// over the shared server.
type client struct {
	t       *testing.T
	engine  *pdm.Engine
	fs      *testutil.MockFilesystemManager
	queue   pdm.StagedQueue
	journal pdm.Journal
}

// world is a shared server plus any number of clients.
type world struct {
	t     *testing.T
	clock *testutil.StubClock
	srv   *flakyServer
}

func newWorld(t *testing.T) *world {
	t.Helper()
	clock := testutil.FixedClock()
	return &world{
		t:     t,
		clock: clock,
		srv:   &flakyServer{Server: testutil.NewTestServer(t, clock, "carol")},
	}
}

func (w *world) client(s pdm.Session, opts ...func(*pdm.Options)) *client {
	w.t.Helper()
	fs := testutil.NewMockFilesystemManager(w.clock, "*.bak")
	return w.clientOn(s, fs, testutil.NewTestQueue(w.clock), testutil.NewTestJournal(), opts...)
}

// clientOn starts an engine over existing local state, as a restarted
// process would.
func (w *world) clientOn(s pdm.Session, fs *testutil.MockFilesystemManager, queue pdm.StagedQueue, journal pdm.Journal, opts ...func(*pdm.Options)) *client {
	w.t.Helper()
	o := pdm.Options{Session: s, ConfirmTimeout: testTimeout}
	for _, fn := range opts {
		fn(&o)
	}
	e := pdm.NewEngine(o, w.srv, fs, queue, journal, pdm.NewNopLogger(), w.clock, testutil.NewStubIDGenerator())
	return &client{t: w.t, engine: e, fs: fs, queue: queue, journal: journal}
}

func (c *client) refresh() {
	c.t.Helper()
	require.NoError(c.t, c.engine.Refresh(context.Background()))
}

func (c *client) run(cmd string, args pdm.Args, targets ...string) *pdm.BatchResult {
	c.t.Helper()
	args.Targets = targets
	res, err := c.engine.Execute(context.Background(), cmd, args)
	require.NoError(c.t, err)
	require.NoError(c.t, res.Err())
	return res
}

// add writes a new file and checks it in as version 1.
func (c *client) add(p, content string) {
	c.t.Helper()
	c.fs.AddFile(p, []byte(content))
	c.refresh()
	c.run(pdm.CmdCheckin, pdm.Args{Comment: "initial"}, p)
}

// edit checks p out, rewrites it and checks it in.
func (c *client) edit(p, content string) {
	c.t.Helper()
	c.refresh()
	if rec := c.engine.Record(p); rec != nil && rec.Status() != pdm.StatusSynced {
		c.run(pdm.CmdGetLatest, yes, p)
	}
	c.run(pdm.CmdCheckout, pdm.Args{}, p)
	c.fs.AddFile(p, []byte(content))
	c.run(pdm.CmdCheckin, pdm.Args{Comment: "edit"}, p)
}

func (c *client) status(p string) pdm.DiffStatus {
	c.t.Helper()
	rec := c.engine.Record(p)
	require.NotNil(c.t, rec, "no record for %s", p)
	return rec.Status()
}

func (c *client) content(p string) string {
	c.t.Helper()
	b, ok := c.fs.Content(p)
	require.True(c.t, ok, "no local file %s", p)
	return string(b)
}
