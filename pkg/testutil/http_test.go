package testutil

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadBodyIsRepeatable(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"item_ref":"deadline:d-1","status":"acknowledged"}`))
	})

	rr := DoRequest(handler, NewRequest(t, http.MethodGet, "/actions/ack"))

	first := ReadBody(t, rr)
	assert.NotEmpty(t, first)

	// Repeated reads and JSON assertions see the same body.
	assert.Equal(t, first, ReadBody(t, rr))
	AssertJSONContains(t, rr, "item_ref", "deadline:d-1")
	AssertJSONContains(t, rr, "status", "acknowledged")
}
