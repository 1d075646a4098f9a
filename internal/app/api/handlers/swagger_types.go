package handlers

import (
	"github.com/funnelcoach/relay/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespListWebhookLogs wraps ListWebhookLogsResponse in the standard envelope.
type RespListWebhookLogs struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ListWebhookLogsResponse  `json:"data"`
}

// RespResyncContact wraps ResyncContactResponse in the standard envelope.
type RespResyncContact struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ResyncContactResponse    `json:"data"`
}
