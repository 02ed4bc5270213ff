// Package response writes the {code, msg, data} envelope every docchat JSON
// endpoint answers with. Failures still use HTTP 200; callers branch on code.
package response

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

type apiError struct {
	code uint32
	msg  string
}

func (e apiError) Error() string {
	return e.msg
}

func (e apiError) Code() uint32 {
	return e.code
}

// NewError pairs an errcode value with the message shown to the client.
func NewError(code int, msg string) error {
	return apiError{code: uint32(code), msg: msg}
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// Error aborts nothing; middlewares call c.Abort themselves.
func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, 200, NewError(code, message))
}
