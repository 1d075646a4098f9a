package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/funnelcoach/relay/internal/app/service/contact_sync"
	"github.com/funnelcoach/relay/internal/app/service/webhook_log"
	"github.com/funnelcoach/relay/internal/models"
	"github.com/funnelcoach/relay/pkg/response"
	"github.com/funnelcoach/relay/pkg/types"
)

type ListWebhookLogsRequest struct {
	Email     string `json:"email"`
	Status    string `json:"status"`
	EventType string `json:"event_type"`
	From      int    `json:"from"`
	Size      int    `json:"size"`
	SortOrder string `json:"sort_order"`
}

type ListWebhookLogsResponse struct {
	Items []*models.WebhookEventLog `json:"items"`
	Total int64                     `json:"total"`
}

// @Summary      List Webhook Logs (Admin)
// @Description  Retrieves a paginated, filterable list of webhook delivery logs.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body ListWebhookLogsRequest true "List request with filters and pagination"
// @Success      200  {object}  handlers.RespListWebhookLogs
// @Router       /api/v1/admin/list_webhook_logs [post]
func ApiListWebhookLogs(svc *webhook_log.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListWebhookLogsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		var filters []*types.CommonFilter
		if req.Email != "" {
			filters = append(filters, &types.CommonFilter{Field: "email", Operator: types.CommonFilterOperatorEq, Values: []any{req.Email}})
		}
		if req.Status != "" {
			filters = append(filters, &types.CommonFilter{Field: "status", Operator: types.CommonFilterOperatorEq, Values: []any{req.Status}})
		}
		if req.EventType != "" {
			filters = append(filters, &types.CommonFilter{Field: "event_type", Operator: types.CommonFilterOperatorEq, Values: []any{req.EventType}})
		}

		res, err := svc.List(c.Request.Context(), &webhook_log.ListRequest{
			Filters:   filters,
			From:      req.From,
			Size:      req.Size,
			SortOrder: req.SortOrder,
		})
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&ListWebhookLogsResponse{Items: res.Items, Total: res.Total}))
	}
}

type ResyncContactRequest struct {
	Email     string            `json:"email"`
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	Phone     string            `json:"phone"`
	Tags      []string          `json:"tags"`
	Fields    map[string]string `json:"fields"`
}

type ResyncContactResponse struct {
	ContactID string `json:"contact_id"`
}

// @Summary      Resync Contact (Admin)
// @Description  Re-runs the CRM merge-and-upsert for a contact. Used to reconcile events whose CRM projection was lost to a downstream outage.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body ResyncContactRequest true "Contact identity plus tags/fields to merge"
// @Success      200  {object}  handlers.RespResyncContact
// @Router       /api/v1/admin/resync_contact [post]
func ApiResyncContact(sync *contact_sync.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResyncContactRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.Email == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing email"))
			return
		}

		identity := types.ContactIdentity{
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Phone:     req.Phone,
		}
		// Unlike the webhook path, resync surfaces CRM errors to the caller.
		id, err := sync.SyncContact(c.Request.Context(), identity, req.Tags, req.Fields)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&ResyncContactResponse{ContactID: id}))
	}
}

func RegisterAdminRoutes(r gin.IRouter, logs *webhook_log.Service, sync *contact_sync.Service) {
	r.POST("/list_webhook_logs", ApiListWebhookLogs(logs))
	r.POST("/resync_contact", ApiResyncContact(sync))
}
