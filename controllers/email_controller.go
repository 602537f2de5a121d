package controllers

import (
	"context"

	"github.com/gin-gonic/gin"

	"byteme/middlewares"
	"byteme/utils"
)

type TestMailer interface {
	SendTest(ctx context.Context, to string) error
}

type EmailController struct {
	notifications TestMailer
}

func NewEmailController(notifications TestMailer) *EmailController {
	return &EmailController{notifications: notifications}
}

func (ctrl *EmailController) Register(r gin.IRouter) {
	r.POST("/test-email", ctrl.SendTest)
}

func (ctrl *EmailController) SendTest(c *gin.Context) {
	defer middlewares.Track(c, "email", "test")

	to := c.Query("to")
	if err := ctrl.notifications.SendTest(c.Request.Context(), to); err != nil {
		utils.Error(c, err, "Failed to send test email")
		return
	}
	utils.OK(c, "Test email sent", gin.H{"to": to})
}
