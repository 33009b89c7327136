package dealapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/crm_backend/models"
	"github.com/shopspring/decimal"
)

func parseIntParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

func queryInt(c *gin.Context, name string) int {
	v, _ := strconv.Atoi(c.Query(name))
	return v
}

func queryDecimal(c *gin.Context, name string) *decimal.Decimal {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &d
}

func queryTime(c *gin.Context, name string) *time.Time {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t
	}
	return nil
}

func queryCursor(c *gin.Context) *string {
	after := strings.TrimSpace(c.Query("after"))
	if after == "" {
		return nil
	}
	return &after
}

/*
	Pipelines
*/

func CreatePipelineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewPipeline
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		pipeline, err := models.CreatePipeline(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, pipeline)
	}
}

func ListPipelinesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		pipelines, err := models.ListPipelines(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, pipelines)
	}
}

func GetPipelineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := parseIntParam(c, "id")
		if !ok {
			return
		}
		pipeline, err := models.GetPipeline(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, pipeline)
	}
}

func DeletePipelineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := parseIntParam(c, "id")
		if !ok {
			return
		}
		if err := models.DeletePipeline(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func PipelineBoardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := parseIntParam(c, "id")
		if !ok {
			return
		}
		view, err := models.GetPipelineView(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

/*
	Stages
*/

func CreateStageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewStage
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		stage, err := models.CreateStage(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, stage)
	}
}

func ListStagesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		pipelineId, ok := parseIntParam(c, "id")
		if !ok {
			return
		}
		stages, err := models.ListStages(c.Request.Context(), pipelineId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stages)
	}
}

/*
	Deals
*/

func CreateDealHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewDeal
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		deal, err := models.CreateDeal(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, deal)
	}
}

func ListDealsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		filter := models.DealFilter{
			PipelineId:    queryInt(c, "pipeline_id"),
			StageId:       queryInt(c, "stage_id"),
			OwnerId:       queryInt(c, "owner_id"),
			AccountId:     queryInt(c, "account_id"),
			Status:        models.DealStatus(c.Query("status")),
			MinValue:      queryDecimal(c, "min_value"),
			MaxValue:      queryDecimal(c, "max_value"),
			CloseDateFrom: queryTime(c, "close_date_from"),
			CloseDateTo:   queryTime(c, "close_date_to"),
			SearchText:    strings.TrimSpace(c.Query("q")),
		}
		if filter.Status != "" && !filter.Status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		connection, err := models.ListDeals(c.Request.Context(), filter, queryInt(c, "limit"), queryCursor(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, connection)
	}
}

func GetDealHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := parseIntParam(c, "id")
		if !ok {
			return
		}
		deal, err := models.GetDeal(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, deal)
	}
}

func UpdateDealHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := parseIntParam(c, "id")
		if !ok {
			return
		}
		var patch models.DealPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		deal, err := models.UpdateDeal(c.Request.Context(), id, &patch)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, deal)
	}
}

func DeleteDealHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := parseIntParam(c, "id")
		if !ok {
			return
		}
		if err := models.DeleteDeal(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type transitionRequest struct {
	StageId     int              `json:"stage_id" binding:"required"`
	Probability *decimal.Decimal `json:"probability"`
}

func TransitionDealHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := parseIntParam(c, "id")
		if !ok {
			return
		}
		var req transitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "stage_id is required"})
			return
		}
		deal, err := models.TransitionDealStage(c.Request.Context(), id, req.StageId, req.Probability)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, deal)
	}
}

func MarkDealWonHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := parseIntParam(c, "id")
		if !ok {
			return
		}
		var opts models.WonOptions
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&opts); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		deal, err := models.MarkDealWon(c.Request.Context(), id, &opts)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, deal)
	}
}

func MarkDealLostHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := parseIntParam(c, "id")
		if !ok {
			return
		}
		var input models.LostInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "loss_reason is required"})
			return
		}
		deal, err := models.MarkDealLost(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, deal)
	}
}

func DealChangeLogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := parseIntParam(c, "id")
		if !ok {
			return
		}
		connection, err := models.PaginateDealChangeLogs(c.Request.Context(), id, queryInt(c, "limit"), queryCursor(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, connection)
	}
}

/*
	Forecast & staleness
*/

func ForecastHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		filter := models.ForecastFilter{
			PipelineId:    queryInt(c, "pipeline_id"),
			OwnerId:       queryInt(c, "owner_id"),
			CloseDateFrom: queryTime(c, "close_date_from"),
			CloseDateTo:   queryTime(c, "close_date_to"),
		}
		summary, err := models.GetForecast(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func StaleDealsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		filter := models.StaleDealFilter{
			PipelineId:   queryInt(c, "pipeline_id"),
			OwnerId:      queryInt(c, "owner_id"),
			OverrideDays: queryInt(c, "stale_days"),
		}
		stale, err := models.GetStaleDeals(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stale)
	}
}

/*
	Accounts
*/

func CreateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewAccount
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		account, err := models.CreateAccount(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, account)
	}
}

func ListAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		connection, err := models.ListAccounts(c.Request.Context(), queryInt(c, "limit"), queryCursor(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, connection)
	}
}

func GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := parseIntParam(c, "id")
		if !ok {
			return
		}
		account, err := models.GetAccount(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, account)
	}
}

// RecomputeAccountHandler forces a rollup rebuild, used by support tooling
// when a metrics drift is suspected.
func RecomputeAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := resolveBusinessID(c); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, ok := parseIntParam(c, "id")
		if !ok {
			return
		}
		if err := models.RecomputeAccountMetrics(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		account, err := models.GetAccount(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, account)
	}
}
