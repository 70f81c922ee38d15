package composables

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestUseLogger_FallsBackToNop(t *testing.T) {
	entry := UseLogger(context.Background())
	require.NotNil(t, entry)
	entry.Error("discarded")
}

func TestUseLogger_ReturnsContextLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)

	ctx := WithLogger(context.Background(), log.WithField("run_id", "r1"))
	UseLogger(ctx).Warn("hello")

	require.Contains(t, buf.String(), "run_id=r1")
	require.Contains(t, buf.String(), "hello")
}

func TestUsePool_Missing(t *testing.T) {
	_, err := UsePool(context.Background())
	require.ErrorIs(t, err, ErrNoPool)

	_, err = UseTx(context.Background())
	require.ErrorIs(t, err, ErrNoPool)
}
