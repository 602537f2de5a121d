package controllers

import (
	"context"

	"github.com/gin-gonic/gin"

	"byteme/middlewares"
	"byteme/models"
	"byteme/utils"
)

type CustomerAPI interface {
	List(ctx context.Context) ([]models.Customer, error)
	Get(ctx context.Context, id string) (*models.Customer, error)
	Save(ctx context.Context, c models.Customer) (bool, error)
	Update(ctx context.Context, c models.Customer) error
}

type CustomerController struct {
	customers CustomerAPI
}

func NewCustomerController(customers CustomerAPI) *CustomerController {
	return &CustomerController{customers: customers}
}

func (ctrl *CustomerController) Register(r gin.IRouter) {
	r.GET("/customers", ctrl.List)
	r.GET("/customer/:customer_id", ctrl.Get)
	r.POST("/customer", ctrl.Save)
	r.PUT("/customer/:customer_id", ctrl.Update)
}

type saveCustomerRequest struct {
	CustomerID string `json:"customer_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Address    string `json:"address" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
}

type updateCustomerRequest struct {
	Name    string `json:"name" binding:"required"`
	Address string `json:"address" binding:"required"`
	Email   string `json:"email" binding:"required,email"`
}

func (ctrl *CustomerController) List(c *gin.Context) {
	customers, err := ctrl.customers.List(c.Request.Context())
	if err != nil {
		utils.Error(c, err, "Failed to list customers")
		return
	}
	if len(customers) == 0 {
		utils.OK(c, "No customers found", []models.Customer{})
		return
	}
	utils.OK(c, "", customers)
}

func (ctrl *CustomerController) Get(c *gin.Context) {
	customer, err := ctrl.customers.Get(c.Request.Context(), c.Param("customer_id"))
	if err != nil {
		utils.Error(c, err, "Failed to get customer")
		return
	}
	utils.OK(c, "", customer)
}

func (ctrl *CustomerController) Save(c *gin.Context) {
	defer middlewares.Track(c, "customer", "save")

	var req saveCustomerRequest
	if err := bindJSON(c, &req); err != nil {
		utils.Error(c, err, "Invalid request")
		return
	}

	customer := models.Customer{
		CustomerID: req.CustomerID,
		Name:       req.Name,
		Address:    req.Address,
		Email:      req.Email,
	}
	created, err := ctrl.customers.Save(c.Request.Context(), customer)
	if err != nil {
		utils.Error(c, err, "Failed to save customer")
		return
	}
	if created {
		utils.Created(c, "Customer created successfully", customer)
		return
	}
	utils.OK(c, "Customer updated successfully", customer)
}

func (ctrl *CustomerController) Update(c *gin.Context) {
	defer middlewares.Track(c, "customer", "update")

	var req updateCustomerRequest
	if err := bindJSON(c, &req); err != nil {
		utils.Error(c, err, "Invalid request")
		return
	}

	customer := models.Customer{
		CustomerID: c.Param("customer_id"),
		Name:       req.Name,
		Address:    req.Address,
		Email:      req.Email,
	}
	if err := ctrl.customers.Update(c.Request.Context(), customer); err != nil {
		utils.Error(c, err, "Failed to update customer")
		return
	}
	utils.OK(c, "Customer updated successfully", customer)
}
