package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// ErrorCase binds a usecase sentinel to the status and message shown to patients.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

func matchCase(err error, cases []ErrorCase) (ErrorCase, bool) {
	for _, cs := range cases {
		if cs.Err != nil && errors.Is(err, cs.Err) {
			return cs, true
		}
	}
	return ErrorCase{}, false
}

func isMapped(err error, cases []ErrorCase) bool {
	_, ok := matchCase(err, cases)
	return ok
}

// RespondWithMappedError writes the first matching case, or the fallback when
// nothing matches. Unmatched errors never leak their text to the client.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if cs, ok := matchCase(err, cases); ok {
		c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
		return
	}
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}
