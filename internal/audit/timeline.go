package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
)

// TimelineResult wraps a timeline page with paging metadata.
type TimelineResult struct {
	Rows   []Record
	Paging PagingInfo
}

// Service coordinates decision log reads.
type Service struct {
	store Store
}

// NewService builds the timeline service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Timeline fetches a page of decisions.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (TimelineResult, error) {
	if s.store == nil {
		return TimelineResult{}, fmt.Errorf("audit: store not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.store.TimelineWindow(ctx, filters, pageSize+1, offset)
	if err != nil {
		return TimelineResult{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return TimelineResult{Rows: rows, Paging: paging}, nil
}

// ExportCSV renders every matching decision as CSV.
func (s *Service) ExportCSV(ctx context.Context, filters TimelineFilters) ([]byte, error) {
	if s.store == nil {
		return nil, fmt.Errorf("audit: store not configured")
	}
	rows, err := s.store.TimelineAll(ctx, filters)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"occurred_at", "principal_id", "resource_type", "resource_id", "action", "bit", "result", "note", "http_method", "request_uri", "ip"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, rec := range rows {
		bit := ""
		if rec.Bit != nil {
			bit = strconv.Itoa(*rec.Bit)
		}
		record := []string{
			rec.OccurredAt.Format("2006-01-02 15:04:05"),
			strconv.FormatInt(rec.PrincipalID, 10),
			rec.ResourceType,
			strconv.FormatInt(rec.ResourceID, 10),
			rec.Action,
			bit,
			string(rec.Result),
			rec.Note,
			rec.HTTPMethod,
			rec.RequestURI,
			rec.IP,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
