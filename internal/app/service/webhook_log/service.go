package webhook_log

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/funnelcoach/relay/internal/models"
	"github.com/funnelcoach/relay/pkg/logctx"
	"github.com/funnelcoach/relay/pkg/tool"
	"github.com/funnelcoach/relay/pkg/types"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Save asynchronously persists a webhook event log. Nil input is ignored.
// Log writes are best-effort and must never delay or fail event processing.
func (s *Service) Save(ctx context.Context, row *models.WebhookEventLog) {
	go func() {
		if row == nil {
			return
		}
		if row.ID == "" {
			row.ID = tool.GenerateUUIDV7()
		}
		if err := s.db.Save(row).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save webhook event log: %v", err)
		}
	}()
}

type ListRequest struct {
	Filters   []*types.CommonFilter
	From      int
	Size      int
	SortBy    string
	SortOrder string
}

type ListResponse struct {
	Items []*models.WebhookEventLog
	Total int64
}

// filtersAnd joins admin filters into a single AND expression.
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, f := range w.filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		f.Build(builder)
	}
}

// List implements paginated admin listing with filters.
func (s *Service) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.WebhookEventLog{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count webhook logs: %w", err)
	}

	var rows []*models.WebhookEventLog

	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}

	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "event_time"
	}
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: sortBy}, Desc: req.SortOrder != "asc"}}})

	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list webhook logs: %w", err)
	}

	return &ListResponse{Items: rows, Total: total}, nil
}
