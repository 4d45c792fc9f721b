package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/service"
)

func TestSettleJobs(t *testing.T) {
	jobs, err := settleJobs(" o-1, ,o-2 ", "close_fifo", "", "")
	require.NoError(t, err)
	assert.Equal(t, []service.SettleRequest{
		{OrderID: "o-1", Action: service.ActionCloseFifo},
		{OrderID: "o-2", Action: service.ActionCloseFifo},
	}, jobs)

	_, err = settleJobs("", "open", "", "")
	assert.Error(t, err)

	_, err = settleJobs("o-1", "hedge", "", "")
	assert.Error(t, err)

	_, err = settleJobs("o-1,o-2", "close", "p-1", "")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
