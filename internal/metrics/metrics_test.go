package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAuth(t *testing.T) {
	before := testutil.ToFloat64(AuthAttempts.WithLabelValues("login", "ok"))

	RecordAuth("login", "ok")
	RecordAuth("login", "ok")

	assert.Equal(t, before+2, testutil.ToFloat64(AuthAttempts.WithLabelValues("login", "ok")))
}

func TestRecordMutation(t *testing.T) {
	before := testutil.ToFloat64(Mutations.WithLabelValues("update", "forbidden"))

	RecordMutation("update", "forbidden")

	assert.Equal(t, before+1, testutil.ToFloat64(Mutations.WithLabelValues("update", "forbidden")))
}
