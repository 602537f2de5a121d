package controllers

import (
	"context"

	"github.com/gin-gonic/gin"

	apperrors "byteme/errors"
	"byteme/middlewares"
	"byteme/services"
	"byteme/utils"
)

type Purchaser interface {
	Purchase(ctx context.Context, in services.PurchaseInput) (*services.PurchaseResult, error)
}

type PurchaseController struct {
	purchases  Purchaser
	authSecret string
}

func NewPurchaseController(purchases Purchaser, authSecret string) *PurchaseController {
	return &PurchaseController{purchases: purchases, authSecret: authSecret}
}

func (ctrl *PurchaseController) Register(r gin.IRouter) {
	g := r.Group("/")
	g.Use(middlewares.AuthMiddleware(ctrl.authSecret))
	g.POST("/purchase", ctrl.Purchase)
}

type purchaseRequest struct {
	RecommendationID string `json:"recommendation_id" binding:"required"`
	CustomerID       string `json:"customer_id" binding:"required"`
}

func (ctrl *PurchaseController) Purchase(c *gin.Context) {
	defer middlewares.Track(c, "purchase", "purchase")

	var req purchaseRequest
	if err := bindJSON(c, &req); err != nil {
		utils.Error(c, err, "Invalid request")
		return
	}
	if !middlewares.AuthorizedCustomer(c, req.CustomerID) {
		utils.Error(c, apperrors.NewForbiddenError("Token does not belong to this customer"), "Forbidden")
		return
	}

	result, err := ctrl.purchases.Purchase(c.Request.Context(), services.PurchaseInput{
		RecommendationID: req.RecommendationID,
		CustomerID:       req.CustomerID,
	})
	if err != nil {
		utils.Error(c, err, "Purchase failed")
		return
	}
	utils.OK(c, "Purchase completed successfully", result)
}
