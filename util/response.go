package util

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Msg     string      `json:"msg"`
	Data    interface{} `json:"data"`
}

type APIErrorParams struct {
	Msg string
	Err error
}

type APISuccessParams struct {
	Msg  string
	Data interface{}
}

// respondError writes a failure envelope. Err is also attached to the gin
// context so the request logger reports it.
func respondError(c *gin.Context, status int, p APIErrorParams) {
	resp := APIResponse{Msg: p.Msg, Data: gin.H{}}
	if p.Err != nil {
		resp.Error = p.Err.Error()
		_ = c.Error(p.Err)
	}
	c.JSON(status, resp)
}

func respond(c *gin.Context, status int, p APISuccessParams) {
	c.JSON(status, APIResponse{Success: true, Msg: p.Msg, Data: p.Data})
}

// 4xx
func CallUserError(c *gin.Context, p APIErrorParams)         { respondError(c, http.StatusBadRequest, p) }
func CallUserNotAuthorized(c *gin.Context, p APIErrorParams) { respondError(c, http.StatusUnauthorized, p) }
func CallForbidden(c *gin.Context, p APIErrorParams)         { respondError(c, http.StatusForbidden, p) }
func CallErrorNotFound(c *gin.Context, p APIErrorParams)     { respondError(c, http.StatusNotFound, p) }
func CallConflict(c *gin.Context, p APIErrorParams)          { respondError(c, http.StatusConflict, p) }
func CallTooManyRequests(c *gin.Context, p APIErrorParams)   { respondError(c, http.StatusTooManyRequests, p) }

// 5xx. Bad gateway is an upstream provider failing; service unavailable is a
// provider that was never configured.
func CallServerError(c *gin.Context, p APIErrorParams)        { respondError(c, http.StatusInternalServerError, p) }
func CallBadGateway(c *gin.Context, p APIErrorParams)         { respondError(c, http.StatusBadGateway, p) }
func CallServiceUnavailable(c *gin.Context, p APIErrorParams) { respondError(c, http.StatusServiceUnavailable, p) }

func CallSuccessOK(c *gin.Context, p APISuccessParams) { respond(c, http.StatusOK, p) }
func CallCreated(c *gin.Context, p APISuccessParams)   { respond(c, http.StatusCreated, p) }
