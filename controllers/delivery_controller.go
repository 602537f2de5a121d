package controllers

import (
	"context"

	"github.com/gin-gonic/gin"

	"byteme/middlewares"
	"byteme/models"
	"byteme/utils"
)

type DeliveryAPI interface {
	Create(ctx context.Context, req models.DeliveryRequest) (*models.Delivery, error)
	Get(ctx context.Context, id string) (*models.Delivery, error)
	ByOrder(ctx context.Context, orderID string) ([]models.Delivery, error)
}

type DeliveryController struct {
	deliveries DeliveryAPI
}

func NewDeliveryController(deliveries DeliveryAPI) *DeliveryController {
	return &DeliveryController{deliveries: deliveries}
}

func (ctrl *DeliveryController) Register(r gin.IRouter) {
	r.POST("/delivery", ctrl.Create)
	r.GET("/delivery/order/:order_id", ctrl.ByOrder)
	r.GET("/delivery/:delivery_id", ctrl.Get)
}

func (ctrl *DeliveryController) Create(c *gin.Context) {
	defer middlewares.Track(c, "delivery", "create")

	var req models.DeliveryRequest
	if err := bindJSON(c, &req); err != nil {
		utils.Error(c, err, "Invalid request")
		return
	}

	d, err := ctrl.deliveries.Create(c.Request.Context(), req)
	if err != nil {
		utils.Error(c, err, "Failed to create delivery")
		return
	}
	utils.Created(c, "Delivery created successfully", d)
}

func (ctrl *DeliveryController) Get(c *gin.Context) {
	d, err := ctrl.deliveries.Get(c.Request.Context(), c.Param("delivery_id"))
	if err != nil {
		utils.Error(c, err, "Failed to get delivery")
		return
	}
	utils.OK(c, "", d)
}

func (ctrl *DeliveryController) ByOrder(c *gin.Context) {
	deliveries, err := ctrl.deliveries.ByOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		utils.Error(c, err, "Failed to get deliveries")
		return
	}
	utils.OK(c, "", deliveries)
}
