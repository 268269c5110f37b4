package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"schedgw/internal/pkg/backend"
)

// Error writes an error response with the status derived from the adapter
// sentinel wrapped inside err.
func Error(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, backend.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, backend.ErrNotImplemented):
		status = http.StatusNotImplemented
	case errors.Is(err, backend.ErrUnavailable):
		status = http.StatusBadGateway
	}
	c.JSON(status, Response{Detail: err.Error()})
}
