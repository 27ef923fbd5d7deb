//go:build linux || darwin || freebsd

package notify

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// The child side attaches with Open and signals; the owner's Receive sees
// every token exactly once.
func TestShared_ChildSignalsParent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	owner, err := Create(dir, 777)
	require.NoError(t, err)
	t.Cleanup(func() { _ = owner.Close() })

	child, err := Open(dir, 777)
	require.NoError(t, err)
	require.NoError(t, child.Send(NewToken(777, 1)))
	require.NoError(t, child.Send(NewToken(777, 2)))
	require.NoError(t, child.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []Token
	for len(got) < 2 {
		toks, err := owner.Receive(ctx)
		require.NoError(t, err)
		got = append(got, toks...)
	}
	require.ElementsMatch(t, []Token{NewToken(777, 1), NewToken(777, 2)}, got)
}

// Goroutines sending through one attachment must not lose slots to each
// other's read-modify-write of the page count.
func TestShared_ConcurrentSendsFromOneAttachment(t *testing.T) {
	t.Parallel()

	const senders, each = 8, 50
	dir := t.TempDir()
	owner, err := Create(dir, 4242)
	require.NoError(t, err)
	t.Cleanup(func() { _ = owner.Close() })
	child, err := Open(dir, 4242)
	require.NoError(t, err)
	t.Cleanup(func() { _ = child.Close() })

	var wg sync.WaitGroup
	for g := 0; g < senders; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if err := child.Send(NewToken(4242, uint32(g*each+i))); err != nil {
					t.Errorf("send: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seen := make(map[Token]bool, senders*each)
	for len(seen) < senders*each {
		toks, err := owner.Receive(ctx)
		require.NoError(t, err)
		for _, tok := range toks {
			require.False(t, seen[tok], "token %x delivered twice", tok)
			seen[tok] = true
		}
	}
	for i := 0; i < senders*each; i++ {
		require.True(t, seen[NewToken(4242, uint32(i))])
	}
}

func TestShared_OpenWithoutOwnerFails(t *testing.T) {
	t.Parallel()

	_, err := Open(t.TempDir(), 1)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestShared_FullPage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	owner, err := Create(dir, 9)
	require.NoError(t, err)
	t.Cleanup(func() { _ = owner.Close() })

	for i := 0; i < pageSlots; i++ {
		require.NoError(t, owner.Send(NewToken(9, uint32(i))))
	}
	require.ErrorIs(t, owner.Send(NewToken(9, 0)), ErrFull)

	toks, err := owner.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, toks, pageSlots)
}

func TestShared_CloseRemovesFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	owner, err := Create(dir, 5)
	require.NoError(t, err)
	require.NoError(t, owner.Close())
	page, bell := paths(dir, 5)
	require.NoFileExists(t, page)
	require.NoFileExists(t, bell)
}
