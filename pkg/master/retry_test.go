package master

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetrierImmediateByDefault(t *testing.T) {
	r := newRetrier(0, time.Second)
	req := request{kind: reqFetchMaster, path: "/soa/master/services/a:b"}
	for i := 0; i < 3; i++ {
		assert.Zero(t, r.next(req))
	}
}

func TestRetrierBacksOffPerRequest(t *testing.T) {
	r := newRetrier(10*time.Millisecond, 40*time.Millisecond)
	req := request{kind: reqClaim, path: "/soa/master/services/a:b"}
	other := request{kind: reqClaim, path: "/soa/master/services/c:d"}

	var last time.Duration
	for i := 0; i < 6; i++ {
		last = r.next(req)
		assert.Greater(t, last, time.Duration(0))
		assert.LessOrEqual(t, last, 48*time.Millisecond, "capped at the max interval plus jitter")
	}
	assert.GreaterOrEqual(t, last, 32*time.Millisecond)

	first := r.next(other)
	assert.LessOrEqual(t, first, 12*time.Millisecond, "requests back off independently")

	r.done(req)
	assert.LessOrEqual(t, r.next(req), 12*time.Millisecond, "done restarts the schedule")
}
