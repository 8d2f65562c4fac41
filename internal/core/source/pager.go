package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/crmpulse/crmpulse/internal/core"
)

const (
	defaultPageSize = 100
	defaultMaxPages = 50
)

// Page is one page of a paginated list response.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
}

// Pager drives a paginated list query to completion. The whole walk counts
// as one network call: any page failure fails the call.
type Pager[T any] struct {
	Client   *Client
	PageSize int
	// MaxPages stops runaway pagination from a misbehaving endpoint.
	MaxPages int
}

// FetchAll requests pages starting at 1 until total_pages is reached.
func (p *Pager[T]) FetchAll(ctx context.Context, params core.Params) ([]T, error) {
	if p == nil || p.Client == nil {
		return nil, errors.New("pager is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pageSize := p.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	maxPages := p.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	items := []T{}
	for page := 1; ; page++ {
		if page > maxPages {
			return nil, &core.SourceError{
				Source:  p.Client.Name,
				Kind:    core.KindDecode,
				Message: fmt.Sprintf("pagination exceeded %d pages", maxPages),
			}
		}

		var current Page[T]
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("page_size", strconv.Itoa(pageSize))
		if err := p.Client.Get(ctx, params, query, &current); err != nil {
			return nil, err
		}

		items = append(items, current.Items...)
		if current.TotalPages <= page || len(current.Items) == 0 {
			return items, nil
		}
	}
}
