// internal/utils/pagination.go
package utils

import (
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListQuery is the query string accepted by list endpoints.
type ListQuery struct {
	Page     int    `form:"page" json:"page"`
	Limit    int    `form:"limit" json:"limit"`
	Sort     string `form:"sort" json:"sort"`
	Order    string `form:"order" json:"order"`
	Search   string `form:"search" json:"search"`
	Category string `form:"category" json:"category"`
	Status   string `form:"status" json:"status"`
	FarmerID string `form:"farmer_id" json:"farmer_id"`
}

type PaginationResult struct {
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	Total      int64       `json:"total"`
	TotalPages int         `json:"total_pages"`
	Data       interface{} `json:"data"`
}

// BindListQuery reads paging and filter parameters. Unknown sort columns fall
// back to created_at; only a malformed farmer_id is reported.
func BindListQuery(c *gin.Context, sortable ...string) (ListQuery, *uuid.UUID, error) {
	var q ListQuery
	// numeric garbage leaves the zero value, which normalize replaces
	_ = c.ShouldBindQuery(&q)
	q.normalize(sortable)

	if q.FarmerID == "" {
		return q, nil, nil
	}
	id, err := uuid.Parse(q.FarmerID)
	if err != nil {
		return q, nil, fmt.Errorf("farmer_id: %w", err)
	}
	return q, &id, nil
}

func (q *ListQuery) normalize(sortable []string) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Order != "asc" {
		q.Order = "desc"
	}

	allowed := false
	for _, column := range sortable {
		if q.Sort == column {
			allowed = true
			break
		}
	}
	if !allowed {
		q.Sort = "created_at"
	}
}

func CreatePaginationResult(data interface{}, total int64, q ListQuery) PaginationResult {
	return PaginationResult{
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(q.Limit))),
		Data:       data,
	}
}

func SetPaginationHeaders(c *gin.Context, result PaginationResult) {
	c.Header("X-Total-Count", strconv.FormatInt(result.Total, 10))
	c.Header("X-Page", strconv.Itoa(result.Page))
	c.Header("X-Per-Page", strconv.Itoa(result.Limit))
	c.Header("X-Total-Pages", strconv.Itoa(result.TotalPages))

	if result.Page < result.TotalPages {
		c.Header("Link", fmt.Sprintf(`<%s>; rel="next"`, pageURL(c, result.Page+1)))
	}
}

func pageURL(c *gin.Context, page int) string {
	u := url.URL{Path: c.Request.URL.Path}
	values := c.Request.URL.Query()
	values.Set("page", strconv.Itoa(page))
	u.RawQuery = values.Encode()
	return u.String()
}
