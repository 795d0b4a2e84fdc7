package server

import (
	"github.com/gin-gonic/gin"

	"github.com/artemis/databridge/internal/apierr"
)

// respondError writes a taxonomy error at the status its code maps to. A
// plain Go error is wrapped as an internal error first, so every error
// response carries a taxonomy code regardless of where it originated.
func respondError(c *gin.Context, err error) {
	taxErr, ok := apierr.As(err)
	if !ok {
		taxErr = apierr.Wrap(apierr.InternalError, err, "internal error")
	}
	c.JSON(taxErr.Code.HTTPStatus(), gin.H{"error": taxErr})
}

func respondNotFound(c *gin.Context, message string) {
	respondError(c, apierr.New(apierr.JobNotFound, message))
}
