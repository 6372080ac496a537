package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200

	idempotencyKeyHeader = "Idempotency-Key"
)

// pagination extracts page/size/sort query parameters with defaults.
func pagination(c *gin.Context) (page, size int, sort string) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "0"))
	if page < 0 {
		page = 0
	}

	size, _ = strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(defaultPageSize)))
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	sort = c.DefaultQuery("sort", "created_at,desc")
	return page, size, sort
}
