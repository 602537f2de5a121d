package controllers

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	apperrors "byteme/errors"
	"byteme/middlewares"
	"byteme/models"
	"byteme/services"
	"byteme/utils"
)

type CartAPI interface {
	Create(ctx context.Context, in services.CreateCartInput) (*models.Cart, error)
	Get(ctx context.Context, id string) (*models.Cart, error)
	ByCustomer(ctx context.Context, customerID string) ([]models.Cart, error)
	All(ctx context.Context) ([]models.Cart, error)
	Delete(ctx context.Context, id string) error
}

type CartController struct {
	carts      CartAPI
	authSecret string
}

func NewCartController(carts CartAPI, authSecret string) *CartController {
	return &CartController{carts: carts, authSecret: authSecret}
}

func (ctrl *CartController) Register(r gin.IRouter) {
	r.POST("/cart", middlewares.AuthMiddleware(ctrl.authSecret), ctrl.Create)
	// /cart/all 必须在 /cart/:cart_id 之前匹配，gin 静态路由优先
	r.GET("/cart/all", ctrl.All)
	r.GET("/cart/customer/:customer_id", ctrl.ByCustomer)
	r.GET("/cart/:cart_id", ctrl.Get)
	r.DELETE("/cart/:cart_id", ctrl.Delete)
}

type createCartRequest struct {
	CustomerID string           `json:"customer_id" binding:"required"`
	Name       string           `json:"name" binding:"required"`
	PartsList  json.RawMessage  `json:"parts_list" binding:"required"`
	TotalCost  *decimal.Decimal `json:"total_cost" binding:"required"`
}

func (ctrl *CartController) Create(c *gin.Context) {
	defer middlewares.Track(c, "cart", "create")

	var req createCartRequest
	if err := bindJSON(c, &req); err != nil {
		utils.Error(c, err, "Invalid request")
		return
	}
	if !middlewares.AuthorizedCustomer(c, req.CustomerID) {
		utils.Error(c, apperrors.NewForbiddenError("Token does not belong to this customer"), "Forbidden")
		return
	}

	cart, err := ctrl.carts.Create(c.Request.Context(), services.CreateCartInput{
		CustomerID: req.CustomerID,
		Name:       req.Name,
		PartsList:  req.PartsList,
		TotalCost:  *req.TotalCost,
	})
	if err != nil {
		utils.Error(c, err, "Failed to create cart")
		return
	}
	utils.Created(c, "Cart created successfully", cart)
}

func (ctrl *CartController) Get(c *gin.Context) {
	cart, err := ctrl.carts.Get(c.Request.Context(), c.Param("cart_id"))
	if err != nil {
		utils.Error(c, err, "Failed to get cart")
		return
	}
	utils.OK(c, "", cart)
}

func (ctrl *CartController) ByCustomer(c *gin.Context) {
	carts, err := ctrl.carts.ByCustomer(c.Request.Context(), c.Param("customer_id"))
	if err != nil {
		utils.Error(c, err, "Failed to get carts")
		return
	}
	utils.OK(c, "", carts)
}

func (ctrl *CartController) All(c *gin.Context) {
	carts, err := ctrl.carts.All(c.Request.Context())
	if err != nil {
		utils.Error(c, err, "Failed to get carts")
		return
	}
	utils.OK(c, "", carts)
}

func (ctrl *CartController) Delete(c *gin.Context) {
	defer middlewares.Track(c, "cart", "delete")

	id := c.Param("cart_id")
	if err := ctrl.carts.Delete(c.Request.Context(), id); err != nil {
		utils.Error(c, err, "Failed to delete cart")
		return
	}
	utils.OK(c, "Cart deleted successfully", gin.H{"cart_id": id})
}
