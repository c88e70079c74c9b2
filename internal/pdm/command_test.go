package pdm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadvault/internal/pdm"
	"cadvault/internal/testutil"
)

// confirmingHandler asks once and touches "a.prt" when the answer is yes.
func confirmingHandler(ctx context.Context, x *pdm.Exec) (*pdm.BatchResult, error) {
	ok, err := x.Confirm(ctx, "Touch these files?", []string{"a.prt"})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pdm.ErrAborted
	}
	res := &pdm.BatchResult{}
	res.OK("a.prt", "touched")
	return res, nil
}

func newTestPipeline(timeout time.Duration) *pdm.Pipeline {
	p := pdm.NewPipeline(timeout, testutil.NewStubIDGenerator(), pdm.NewNopLogger())
	p.Register("touch", confirmingHandler)
	return p
}

func TestPipeline_Confirmation(t *testing.T) {
	tests := []struct {
		name        string
		timeout     time.Duration
		args        pdm.Args
		reply       *bool
		wantAborted bool
	}{
		{name: "answered yes", timeout: testTimeout, reply: ptr(true)},
		{name: "answered no", timeout: testTimeout, reply: ptr(false), wantAborted: true},
		{name: "timeout counts as no", timeout: 20 * time.Millisecond, wantAborted: true},
		{name: "assume yes skips the question", timeout: testTimeout, args: pdm.Args{AssumeYes: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(tt.timeout)
			if tt.reply != nil {
				answer(t, p, *tt.reply)
			}

			res, err := p.Execute(context.Background(), "touch", tt.args)
			if tt.wantAborted {
				require.ErrorIs(t, err, pdm.ErrAborted)
				assert.True(t, res.Aborted)
				assert.Empty(t, res.Items)
			} else {
				require.NoError(t, err)
				assert.Len(t, res.Succeeded(), 1)
			}
			assert.Equal(t, "touch", res.Command)

			_, pending := p.Pending()
			assert.False(t, pending, "the confirmation slot must be freed")
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestPipeline_OneConfirmationAtATime(t *testing.T) {
	p := newTestPipeline(testTimeout)
	ctx := context.Background()

	type result struct {
		res *pdm.BatchResult
		err error
	}
	first := make(chan result, 1)
	go func() {
		res, err := p.Execute(ctx, "touch", pdm.Args{})
		first <- result{res, err}
	}()
	req := <-p.Requests()

	pending, ok := p.Pending()
	require.True(t, ok)
	assert.Equal(t, req.ID, pending.ID)

	_, err := p.Execute(ctx, "touch", pdm.Args{})
	require.ErrorIs(t, err, pdm.ErrConfirmationPending)

	require.Error(t, p.Respond("id-999", true))
	require.NoError(t, p.Respond(req.ID, true))
	got := <-first
	require.NoError(t, got.err)
	assert.Len(t, got.res.Succeeded(), 1)
}

func TestPipeline_ConfirmationCanceled(t *testing.T) {
	p := newTestPipeline(0)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := p.Execute(ctx, "touch", pdm.Args{})
		errc <- err
	}()
	<-p.Requests()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestPipeline_Undo(t *testing.T) {
	p := pdm.NewPipeline(0, testutil.NewStubIDGenerator(), pdm.NewNopLogger())
	counter := 0
	p.Register("inc", func(ctx context.Context, x *pdm.Exec) (*pdm.BatchResult, error) {
		counter++
		x.OnUndo("inc", func(ctx context.Context) (*pdm.BatchResult, error) {
			counter--
			res := &pdm.BatchResult{}
			res.OK("counter", "decremented")
			return res, nil
		})
		res := &pdm.BatchResult{}
		res.OK("counter", "incremented")
		return res, nil
	})
	p.Register("fail", func(ctx context.Context, x *pdm.Exec) (*pdm.BatchResult, error) {
		x.OnUndo("fail", func(ctx context.Context) (*pdm.BatchResult, error) { return nil, nil })
		res := &pdm.BatchResult{}
		res.Fail("x", errors.New("boom"))
		return res, nil
	})
	ctx := context.Background()

	_, err := p.Execute(ctx, "inc", pdm.Args{})
	require.NoError(t, err)
	_, err = p.Execute(ctx, "inc", pdm.Args{})
	require.NoError(t, err)

	res, err := p.Execute(ctx, "fail", pdm.Args{})
	require.NoError(t, err, "per-file failures are not a command error")
	require.Error(t, res.Err())

	name, ok := p.CanUndo()
	require.True(t, ok, "a command with no successes is not undoable")
	assert.Equal(t, "inc", name)

	res, err = p.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "undo inc", res.Command)
	assert.Equal(t, 1, counter)

	_, err = p.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counter)

	_, ok = p.CanUndo()
	assert.False(t, ok)
	_, err = p.Undo(ctx)
	assert.Error(t, err)
}

func TestPipeline_UnknownCommand(t *testing.T) {
	p := newTestPipeline(0)
	_, err := p.Execute(context.Background(), "frobnicate", pdm.Args{})
	assert.ErrorContains(t, err, "unknown command")
}

func TestEngine_Commands(t *testing.T) {
	w := newWorld(t)
	a := w.client(alice)
	assert.ElementsMatch(t, []string{
		pdm.CmdCheckout, pdm.CmdCheckin, pdm.CmdGetLatest, pdm.CmdForceRelease,
		pdm.CmdDiscard, pdm.CmdDelete, pdm.CmdMove,
	}, a.engine.Pipeline().Commands())
}

func TestEngine_CheckoutUndoReleases(t *testing.T) {
	w := newWorld(t)
	a := w.client(alice)
	a.add("p.prt", "one")

	a.run(pdm.CmdCheckout, pdm.Args{}, "p.prt")
	name, ok := a.engine.Pipeline().CanUndo()
	require.True(t, ok)
	assert.Equal(t, pdm.CmdCheckout, name)

	res, err := a.engine.Pipeline().Undo(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.True(t, a.engine.Record("p.prt").LockHolder().IsZero())
}

func TestEngine_CheckoutOutdatedPullsLatest(t *testing.T) {
	w := newWorld(t)
	a, b := w.client(alice), w.client(bob)

	b.add("p.prt", "one")
	a.refresh()
	a.run(pdm.CmdGetLatest, pdm.Args{}, "p.prt")
	b.edit("p.prt", "two")
	a.refresh()

	res := a.run(pdm.CmdCheckout, pdm.Args{}, "p.prt")
	assert.Equal(t, "checked out; pulled v2", res.Items[0].Note)
	assert.Equal(t, "two", a.content("p.prt"))
}

func TestEngine_Delete(t *testing.T) {
	t.Run("declined leaves everything in place", func(t *testing.T) {
		w := newWorld(t)
		a := w.client(alice)
		a.add("p.prt", "one")

		answer(t, a.engine.Pipeline(), false)
		res, err := a.engine.Execute(context.Background(), pdm.CmdDelete, pdm.Args{Targets: []string{"p.prt"}})
		require.ErrorIs(t, err, pdm.ErrAborted)
		assert.True(t, res.Aborted)
		assert.Equal(t, "one", a.content("p.prt"))
		_, err = w.srv.GetRecord(context.Background(), "p.prt")
		assert.NoError(t, err)
	})

	t.Run("another user's lock blocks the delete", func(t *testing.T) {
		w := newWorld(t)
		a, b := w.client(alice), w.client(bob)
		a.add("p.prt", "one")
		b.refresh()
		b.run(pdm.CmdCheckout, pdm.Args{}, "p.prt")
		a.refresh()

		res, err := a.engine.Execute(context.Background(), pdm.CmdDelete, pdm.Args{Targets: []string{"p.prt"}, AssumeYes: true})
		require.NoError(t, err)
		require.Len(t, res.Failed(), 1)
		assert.ErrorIs(t, res.Failed()[0].Err, pdm.ErrLockConflict)
	})

	t.Run("confirmed removes both copies", func(t *testing.T) {
		w := newWorld(t)
		a := w.client(alice)
		a.add("p.prt", "one")

		a.run(pdm.CmdDelete, yes, "p.prt")
		_, ok := a.fs.Content("p.prt")
		assert.False(t, ok)
		_, err := w.srv.GetRecord(context.Background(), "p.prt")
		assert.ErrorIs(t, err, pdm.ErrNotFound)
		assert.Nil(t, a.engine.Record("p.prt"))
	})
}

func TestEngine_MoveAndUndo(t *testing.T) {
	w := newWorld(t)
	a := w.client(alice)
	ctx := context.Background()
	a.add("a.prt", "a")
	a.add("b.prt", "b")

	a.run(pdm.CmdMove, pdm.Args{Destination: "parts"}, "a.prt", "b.prt")
	for _, p := range []string{"parts/a.prt", "parts/b.prt"} {
		_, err := w.srv.GetRecord(ctx, p)
		require.NoError(t, err, p)
		assert.Equal(t, pdm.StatusSynced, a.status(p))
	}
	assert.Equal(t, "a", a.content("parts/a.prt"))

	res, err := a.engine.Pipeline().Undo(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	assert.Equal(t, "a", a.content("a.prt"))
	revs, err := a.engine.History(ctx, "a.prt")
	require.NoError(t, err)
	assert.Len(t, revs, 1, "history follows the record through a move")
}

func TestEngine_MoveOntoExistingFileFails(t *testing.T) {
	w := newWorld(t)
	a := w.client(alice)
	a.add("a.prt", "a")
	a.add("b.prt", "b")

	res, err := a.engine.Execute(context.Background(), pdm.CmdMove, pdm.Args{Targets: []string{"a.prt"}, Destination: "b.prt"})
	require.NoError(t, err)
	require.Len(t, res.Failed(), 1)
	_, ok := a.engine.Pipeline().CanUndo()
	assert.False(t, ok)
}

func TestEngine_Discard(t *testing.T) {
	w := newWorld(t)
	a := w.client(alice)
	a.add("p.prt", "one")
	a.run(pdm.CmdCheckout, pdm.Args{}, "p.prt")
	a.fs.AddFile("p.prt", []byte("scratch"))
	a.refresh()

	res := a.run(pdm.CmdDiscard, yes, "p.prt")
	assert.Equal(t, "discarded", res.Items[0].Note)
	assert.Equal(t, "one", a.content("p.prt"))
	assert.Equal(t, pdm.StatusSynced, a.status("p.prt"))

	res = a.run(pdm.CmdDiscard, yes, "p.prt")
	assert.Equal(t, "nothing to discard", res.Items[0].Note)
}

func TestEngine_CommandFailuresArePerFile(t *testing.T) {
	w := newWorld(t)
	a := w.client(alice)
	a.add("a.prt", "a")
	a.run(pdm.CmdCheckout, pdm.Args{}, "a.prt")
	a.fs.AddFile("a.prt", []byte("a2"))

	res, err := a.engine.Execute(context.Background(), pdm.CmdCheckin, pdm.Args{Targets: []string{"a.prt", "ghost.prt"}})
	require.NoError(t, err)
	require.Len(t, res.Succeeded(), 1)
	require.Len(t, res.Failed(), 1)
	assert.Equal(t, "ghost.prt", res.Failed()[0].Path)
	assert.ErrorContains(t, res.Err(), "ghost.prt")

	_, err = a.engine.Execute(context.Background(), pdm.CmdCheckin, pdm.Args{})
	assert.ErrorContains(t, err, "no files given")
}
