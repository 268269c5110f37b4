package response

import (
	"net/url"
	"strconv"
)

// Response 统一的 HTTP 响应包装. 列表接口填充 Count/Previous/Next/Results,
// 错误场景仅填充 Detail.
type Response struct {
	Count    *int    `json:"count,omitempty"`
	Previous *string `json:"previous,omitempty"`
	Next     *string `json:"next,omitempty"`
	Results  any     `json:"results,omitempty"`
	Detail   string  `json:"detail,omitempty"`
}

// BuildPageLinks derives the previous/next page URLs for a paged listing.
// A nil link means there is no page in that direction.
func BuildPageLinks(u *url.URL, page, pageSize, total int) (*string, *string) {
	if u == nil || pageSize <= 0 {
		return nil, nil
	}

	link := func(p int) *string {
		q := u.Query()
		q.Set("page", strconv.Itoa(p))
		q.Set("page_size", strconv.Itoa(pageSize))
		cloned := *u
		cloned.RawQuery = q.Encode()
		s := cloned.String()
		return &s
	}

	var prev, next *string
	if page > 1 {
		prev = link(page - 1)
	}
	if page*pageSize < total {
		next = link(page + 1)
	}
	return prev, next
}
