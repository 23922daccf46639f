package endpoint

import (
	"errors"
	"fmt"

	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/sms"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SendSMS godoc
// @Summary      Send an SMS
// @Description  The recipient is normalized to E.164 using the clinic's default region
// @Tags         SMS
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        request body sms.Message true "Message"
// @Success      200 {object} util.APIResponse{data=sms.Result} "SMS sent"
// @Failure      400 {object} util.APIResponse "Invalid recipient or body"
// @Failure      502 {object} util.APIResponse "Provider error"
// @Failure      503 {object} util.APIResponse "SMS not configured"
// @Router       /sms/send [post]
func SendSMS(c *gin.Context) {
	var req sms.Message
	if !bindJSONOrRespond(c, &req, "Invalid SMS request") {
		return
	}
	svc := middleware.GetServices(c)
	msg, err := sms.Prepare(req, svc.PhoneRegion())
	if err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: err.Error(), Err: err})
		return
	}
	if svc.SMS == nil {
		util.CallServiceUnavailable(c, util.APIErrorParams{Msg: "SMS is not configured", Err: sms.ErrNotConfigured})
		return
	}

	res, err := svc.SMS.Send(c.Request.Context(), msg)
	switch {
	case err == nil:
	case errors.Is(err, sms.ErrInvalidRecipient), errors.Is(err, sms.ErrInvalidBody):
		util.CallUserError(c, util.APIErrorParams{Msg: err.Error(), Err: err})
		return
	case errors.Is(err, sms.ErrNotConfigured):
		util.CallServiceUnavailable(c, util.APIErrorParams{Msg: "SMS is not configured", Err: err})
		return
	default:
		svc.Metrics.ObserveSMS("failed")
		log.Warn().Err(err).Str("to", msg.To).Msg("sms send failed")
		util.CallBadGateway(c, util.APIErrorParams{Msg: fmt.Sprintf("SMS provider error: %v", err), Err: err})
		return
	}
	svc.Metrics.ObserveSMS("sent")
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "SMS sent", Data: res})
}
