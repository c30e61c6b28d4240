package response

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"hsync/entity"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{entity.ErrInsufficientBalance, http.StatusPaymentRequired},
		{fmt.Errorf("reseller: %w", entity.ErrNotFound), http.StatusNotFound},
		{entity.ErrForbidden, http.StatusForbidden},
		{entity.ErrBatchLimit, http.StatusBadRequest},
		{entity.ErrOrderNotPending, http.StatusConflict},
		{entity.ErrProfileInactive, http.StatusConflict},
		{entity.ErrCodeExhausted, http.StatusServiceUnavailable},
		{fmt.Errorf("stripe: %w", entity.ErrUnavailable), http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, StatusOf(c.err), "%v", c.err)
	}
}

func TestFailed(t *testing.T) {
	r := Failed("stopped", []int{1})
	assert.False(t, r.Success)
	assert.Equal(t, "stopped", r.StatusMessage)
	assert.Equal(t, []int{1}, r.Data)
	assert.NotEmpty(t, r.Timestamp)
}
