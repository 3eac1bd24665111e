package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		code string
		want int
	}{
		{NewUnknownChannel("x"), "UnknownChannel", http.StatusNotFound},
		{NewUnknownDevice("magnet"), "UnknownDevice", http.StatusNotFound},
		{NewInvalidBatch("empty batch"), "InvalidBatch", http.StatusBadRequest},
		{Wrap(ErrInvalidWindow, "minutes"), "InvalidWindow", http.StatusBadRequest},
		{Unavailable("read", New("connection lost")), "StoreUnavailable", http.StatusServiceUnavailable},
		{Unavailable("read", ErrStoreClosed), "StoreUnavailable", http.StatusServiceUnavailable},
		{fmt.Errorf("connect: %w", ErrStoreUnreachable), "StoreUnreachable", http.StatusServiceUnavailable},
		{ErrQueueFull, "QueueFull", http.StatusTooManyRequests},
		{New("boom"), "Internal", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus: got %d, want %d", got, tt.want)
			}
			if got := CodeName(ErrorToCode(tt.err)); got != tt.code {
				t.Errorf("code: got %s, want %s", got, tt.code)
			}
		})
	}
}

func TestCategories(t *testing.T) {
	if !IsValidation(NewValidation("buffer_len", "must be positive")) {
		t.Error("config validation error not classified as validation")
	}
	if IsValidation(ErrQueueFull) {
		t.Error("queue full is not a validation error")
	}
	if !IsUnavailable(Unavailable("write batch", New("timeout"))) {
		t.Error("wrapped store failure not classified as unavailable")
	}
	if Unavailable("op", nil) != nil {
		t.Error("Unavailable(nil) must stay nil")
	}
}
