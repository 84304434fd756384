package audit

import (
	"context"
	"fmt"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// QueryRepository is the read contract the service needs.
type QueryRepository interface {
	Window(ctx context.Context, f Filters, offset, limit int) ([]Entry, error)
	Stream(ctx context.Context, f Filters, fn func(Entry) error) error
}

// Service coordinates audit reads.
type Service struct {
	repo QueryRepository
}

// NewService constructs the audit query service.
func NewService(repo QueryRepository) *Service {
	return &Service{repo: repo}
}

// Query returns one page of entries matching the filters, newest first.
// The window is fetched with one extra row to detect a next page.
func (s *Service) Query(ctx context.Context, f Filters) (Page, error) {
	if s.repo == nil {
		return Page{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	entries, err := s.repo.Window(ctx, f, offset, pageSize+1)
	if err != nil {
		return Page{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Page{Entries: entries, Paging: paging}, nil
}
