package main

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clipline/clipline/internal/database"
	"github.com/clipline/clipline/internal/upload"
)

func TestUploadErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown session", database.ErrSessionNotFound, http.StatusNotFound},
		{"duplicate init", database.ErrUploadConflict, http.StatusConflict},
		{"closed session", upload.ErrSessionClosed, http.StatusConflict},
		{"wrapped closed session", fmt.Errorf("%w: status is completed", upload.ErrSessionClosed), http.StatusConflict},
		{"expired session", upload.ErrSessionExpired, http.StatusGone},
		{"invalid size", upload.ErrInvalidFileSize, http.StatusBadRequest},
		{"too large", upload.ErrFileTooLarge, http.StatusBadRequest},
		{"chunk out of range", upload.ErrChunkOutOfRange, http.StatusBadRequest},
		{"anything else", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, uploadErrorStatus(tt.err))
		})
	}
}
