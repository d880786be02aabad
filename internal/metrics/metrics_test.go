package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stake-raffle/internal/models"
	"stake-raffle/internal/services/raffle"
)

type stateStub struct{}

func (stateStub) Height() uint64     { return 7 }
func (stateStub) FeeBalance() uint64 { return 3 }
func (stateStub) OpenRaffles() []models.RaffleSummary {
	return []models.RaffleSummary{{ID: 1}, {ID: 2}}
}
func (stateStub) PendingResolution() []uint64 { return []uint64{0} }

func TestRunCountsEvents(t *testing.T) {
	m := New(nil)
	events := make(chan raffle.Event, 3)
	events <- raffle.Event{Type: raffle.EventStaked}
	events <- raffle.Event{Type: raffle.EventStaked}
	events <- raffle.Event{Type: raffle.EventPrizeClaimed}
	close(events)

	m.Run(context.Background(), events)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("staked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("prize_claimed")))
}

func TestObserveError(t *testing.T) {
	m := New(nil)
	m.ObserveError("stake", raffle.ErrExpired)
	m.ObserveError("stake", errors.New("boom"))
	m.ObserveError("stake", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("stake", raffle.KindOf(raffle.ErrExpired).String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("stake", raffle.KindInternal.String())))
}

func TestHandlerExposesGauges(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(stateStub{})
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/metrics", gin.WrapH(m.Handler()))

	// Prime the latency histogram.
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "stake_raffle_ledger_height 7")
	assert.Contains(t, text, "stake_raffle_oracle_fee_balance 3")
	assert.Contains(t, text, "stake_raffle_raffles_open 2")
	assert.Contains(t, text, "stake_raffle_raffles_pending_resolution 1")
	assert.Contains(t, text, `route="unmatched"`)
}
