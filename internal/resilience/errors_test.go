package resilience

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpstreamError_WrapAndClassify(t *testing.T) {
	base := errors.New("rate limit exceeded")
	ue := NewUpstreamError("generation", "draft creatives", base)

	assert.True(t, ue.Transient)
	assert.Contains(t, ue.Error(), "generation")
	assert.Contains(t, ue.Error(), "draft creatives")
	assert.ErrorIs(t, ue, base)
}

func TestUpstreamError_NonTransient(t *testing.T) {
	ue := NewUpstreamError("knowledge", "retrieve", errors.New("invalid api key"))
	assert.False(t, ue.Transient)
	assert.False(t, IsTransient(ue))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("schema mismatch"), false},
		{"explicit transient upstream", &UpstreamError{Capability: "generation", Op: "x", Err: errors.New("x"), Transient: true}, true},
		{"wrapped transient upstream", fmt.Errorf("stage create: %w", &UpstreamError{Capability: "generation", Op: "x", Err: errors.New("x"), Transient: true}), true},
		{"connection reset message", errors.New("read tcp: connection reset by peer"), true},
		{"overloaded message", errors.New("api_error: overloaded"), true},
		{"io timeout message", errors.New("dial tcp: i/o timeout"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}
