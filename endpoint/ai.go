package endpoint

import (
	"github.com/ariebrainware/physio-practice/assistant"
	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/gin-gonic/gin"
)

// Chat godoc
// @Summary      Ask the clinical assistant
// @Description  Proxies a conversation to the language model. A rate-limited provider yields a canned reply with fallback=true
// @Tags         Assistant
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        request body assistant.ChatRequest true "Conversation"
// @Success      200 {object} util.APIResponse{data=assistant.ChatResponse} "Assistant reply"
// @Failure      400 {object} util.APIResponse "Invalid conversation"
// @Failure      502 {object} util.APIResponse "Provider error"
// @Failure      503 {object} util.APIResponse "Assistant not configured"
// @Router       /ai/chat [post]
func Chat(c *gin.Context) {
	var req assistant.ChatRequest
	if !bindJSONOrRespond(c, &req, "Invalid chat request") {
		return
	}
	svc := middleware.GetServices(c)
	resp, err := svc.Assistant.Complete(c.Request.Context(), req)
	if err != nil {
		respondAssistantError(c, svc.Metrics, err)
		return
	}
	observeAssistant(svc.Metrics, resp)
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Assistant reply", Data: resp})
}
