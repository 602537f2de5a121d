package controllers

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"byteme/middlewares"
	"byteme/models"
	"byteme/services"
	"byteme/utils"
)

type RecommendationAPI interface {
	Create(ctx context.Context, in services.CreateRecommendationInput) (*models.Recommendation, error)
	Get(ctx context.Context, id string) (*models.Recommendation, error)
	ByCustomer(ctx context.Context, customerID string) ([]models.Recommendation, error)
}

type RecommendationController struct {
	recommendations RecommendationAPI
}

func NewRecommendationController(recommendations RecommendationAPI) *RecommendationController {
	return &RecommendationController{recommendations: recommendations}
}

func (ctrl *RecommendationController) Register(r gin.IRouter) {
	r.POST("/recommendation", ctrl.Create)
	r.GET("/recommendation/customer/:customer_id", ctrl.ByCustomer)
	r.GET("/recommendation/:recommendation_id", ctrl.Get)
}

type createRecommendationRequest struct {
	CustomerID string           `json:"customer_id" binding:"required"`
	PartsList  json.RawMessage  `json:"parts_list" binding:"required"`
	Cost       *decimal.Decimal `json:"cost"`
}

func (ctrl *RecommendationController) Create(c *gin.Context) {
	defer middlewares.Track(c, "recommendation", "create")

	var req createRecommendationRequest
	if err := bindJSON(c, &req); err != nil {
		utils.Error(c, err, "Invalid request")
		return
	}

	rec, err := ctrl.recommendations.Create(c.Request.Context(), services.CreateRecommendationInput{
		CustomerID: req.CustomerID,
		PartsList:  req.PartsList,
		Cost:       req.Cost,
	})
	if err != nil {
		utils.Error(c, err, "Failed to create recommendation")
		return
	}
	utils.Created(c, "Recommendation created successfully", rec)
}

func (ctrl *RecommendationController) Get(c *gin.Context) {
	rec, err := ctrl.recommendations.Get(c.Request.Context(), c.Param("recommendation_id"))
	if err != nil {
		utils.Error(c, err, "Failed to get recommendation")
		return
	}
	utils.OK(c, "", rec)
}

func (ctrl *RecommendationController) ByCustomer(c *gin.Context) {
	recs, err := ctrl.recommendations.ByCustomer(c.Request.Context(), c.Param("customer_id"))
	if err != nil {
		utils.Error(c, err, "Failed to get recommendations")
		return
	}
	utils.OK(c, "", recs)
}
