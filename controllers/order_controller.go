package controllers

import (
	"context"

	"github.com/gin-gonic/gin"

	apperrors "byteme/errors"
	"byteme/middlewares"
	"byteme/models"
	"byteme/utils"
)

type OrderAPI interface {
	Create(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error)
	Get(ctx context.Context, id string) (*models.Order, error)
	List(ctx context.Context) ([]models.Order, error)
	ByCustomer(ctx context.Context, customerID string) ([]models.Order, error)
	UpdateStatus(ctx context.Context, id, status string) (*models.Order, error)
	Delete(ctx context.Context, id string) error
}

type OrderController struct {
	orders OrderAPI
}

func NewOrderController(orders OrderAPI) *OrderController {
	return &OrderController{orders: orders}
}

func (ctrl *OrderController) Register(r gin.IRouter) {
	r.POST("/order", ctrl.CreateOrder)
	r.GET("/order", ctrl.ListOrders)
	r.GET("/order/:order_id", ctrl.GetOrderDetails)
	r.GET("/order/customers/:customer_id", ctrl.GetCustomerOrders)
	r.PUT("/order/:order_id/status", ctrl.UpdateOrderStatus)
	r.DELETE("/order/:order_id", ctrl.DeleteOrder)
}

func (ctrl *OrderController) CreateOrder(c *gin.Context) {
	defer middlewares.Track(c, "order", "create")

	var req models.CreateOrderRequest
	if err := bindJSON(c, &req); err != nil {
		utils.Error(c, err, "Invalid request")
		return
	}

	// 订单写入和 outbox 事件在同一个事务里，事件由 relay 投递
	order, err := ctrl.orders.Create(c.Request.Context(), req)
	if err != nil {
		utils.Error(c, err, "Failed to create order")
		return
	}
	utils.Created(c, "Order created successfully", order)
}

func (ctrl *OrderController) ListOrders(c *gin.Context) {
	defer middlewares.Track(c, "order", "list")

	orders, err := ctrl.orders.List(c.Request.Context())
	if err != nil {
		utils.Error(c, err, "Failed to list orders")
		return
	}
	utils.OK(c, "", orders)
}

func (ctrl *OrderController) GetOrderDetails(c *gin.Context) {
	defer middlewares.Track(c, "order", "get")

	order, err := ctrl.orders.Get(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		utils.Error(c, err, "Failed to get order")
		return
	}
	utils.OK(c, "", order)
}

func (ctrl *OrderController) GetCustomerOrders(c *gin.Context) {
	defer middlewares.Track(c, "order", "list_customer")

	orders, err := ctrl.orders.ByCustomer(c.Request.Context(), c.Param("customer_id"))
	if err != nil {
		utils.Error(c, err, "Failed to list orders")
		return
	}
	utils.OK(c, "", orders)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (ctrl *OrderController) UpdateOrderStatus(c *gin.Context) {
	defer middlewares.Track(c, "order", "update_status")

	var req updateStatusRequest
	if err := bindJSON(c, &req); err != nil {
		if _, ok := apperrors.IsValidationError(err); ok {
			err = apperrors.MissingField("status")
		}
		utils.Error(c, err, "Invalid request")
		return
	}

	order, err := ctrl.orders.UpdateStatus(c.Request.Context(), c.Param("order_id"), req.Status)
	if err != nil {
		utils.Error(c, err, "Failed to update order status")
		return
	}
	utils.OK(c, "Order status updated successfully", order)
}

func (ctrl *OrderController) DeleteOrder(c *gin.Context) {
	defer middlewares.Track(c, "order", "delete")

	id := c.Param("order_id")
	if err := ctrl.orders.Delete(c.Request.Context(), id); err != nil {
		utils.Error(c, err, "Failed to delete order")
		return
	}
	utils.OK(c, "Order deleted successfully", gin.H{"order_id": id})
}
