package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "byteme/errors"
	"byteme/middlewares"
	"byteme/services"
	"byteme/utils"
)

type RefundInitiator interface {
	Initiate(ctx context.Context, in services.RefundInitInput) (*services.RefundInitResult, error)
}

type RefundController struct {
	refunds    RefundInitiator
	authSecret string
}

func NewRefundController(refunds RefundInitiator, authSecret string) *RefundController {
	return &RefundController{refunds: refunds, authSecret: authSecret}
}

func (ctrl *RefundController) Register(r gin.IRouter) {
	g := r.Group("/")
	g.Use(middlewares.AuthMiddleware(ctrl.authSecret))
	g.POST("/initiate-refund", ctrl.Initiate)
}

type initiateRefundRequest struct {
	OrderID    string `json:"order_id" binding:"required"`
	CustomerID string `json:"customer_id" binding:"required"`
	Reason     string `json:"reason"`
}

func (ctrl *RefundController) Initiate(c *gin.Context) {
	defer middlewares.Track(c, "refund", "initiate")

	var req initiateRefundRequest
	if err := bindJSON(c, &req); err != nil {
		utils.Error(c, err, "Invalid request")
		return
	}
	if !middlewares.AuthorizedCustomer(c, req.CustomerID) {
		utils.Error(c, apperrors.NewForbiddenError("Token does not belong to this customer"), "Forbidden")
		return
	}

	result, err := ctrl.refunds.Initiate(c.Request.Context(), services.RefundInitInput{
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		Reason:     req.Reason,
	})
	if err != nil {
		utils.Error(c, err, "Failed to initiate refund")
		return
	}
	c.JSON(http.StatusOK, result)
}
