package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rovshanmuradov/agro-ledger/internal/market"
)

func TestPrintSyncStats(t *testing.T) {
	var out bytes.Buffer
	printSyncStats(&out, market.Stats{Version: 4, Refreshes: 4, Notifications: 9, Coalesced: 5, Throttled: true, LastError: errors.New("rpc down")})
	assert.Equal(t, "view v4: 4 refreshes, 0 failed, 9 notifications (5 coalesced), 0 resubscriptions\n"+
		"a coalesced refresh was still queued\nlast refresh error: rpc down\n", out.String())
}
