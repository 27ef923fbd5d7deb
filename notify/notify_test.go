package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

func TestToken_Packing(t *testing.T) {
	t.Parallel()

	tok := NewToken(4242, 17)
	require.Equal(t, uint32(4242), tok.PID())
	require.Equal(t, uint32(17), tok.Tag())
}

func TestLocal_SendReceive(t *testing.T) {
	t.Parallel()

	ch := NewLocal()
	t.Cleanup(func() { _ = ch.Close() })

	require.NoError(t, ch.Send(NewToken(1, 1)))
	require.NoError(t, ch.Send(NewToken(1, 2)))
	got, err := ch.Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Token{NewToken(1, 1), NewToken(1, 2)}, got)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ch.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocal_CloseUnblocksReceive(t *testing.T) {
	t.Parallel()

	ch := NewLocal()
	errc := make(chan error, 1)
	go func() {
		_, err := ch.Receive(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ch.Close())
	require.ErrorIs(t, <-errc, ErrClosed)
	require.ErrorIs(t, ch.Send(1), ErrClosed)
}
