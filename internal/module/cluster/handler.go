package cluster

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"schedgw/internal/pkg/backend"
	"schedgw/internal/pkg/backend/registry"
	"schedgw/internal/pkg/common/response"
	"schedgw/internal/pkg/model"
)

// maxAccountingFetch bounds how many accounting rows a single paged request
// may pull from the store, regardless of the page number asked for.
const maxAccountingFetch = 10000

func getAdapter(c *gin.Context, name string) (backend.Adapter, bool) {
	reg := registry.Default()
	if reg == nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "cluster registry not initialized"})
		return nil, false
	}
	a, err := reg.GetAdapter(name)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return a, true
}

// HandlerListClusters 列出所有已配置的集群
// @Summary 列出集群名称与类型
// @Tags clusters
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/cluster/all [get]
func HandlerListClusters(c *gin.Context) {
	reg := registry.Default()
	if reg == nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "cluster registry not initialized"})
		return
	}
	clusters := reg.ListClusters()
	count := len(clusters)
	c.JSON(http.StatusOK, response.Response{Count: &count, Results: clusters})
}

type clusterQuery struct {
	Cluster string `form:"cluster" binding:"required"`
}

// HandlerGetCluster 查询单个集群配置
// @Summary 查询集群配置, 凭据字段脱敏
// @Tags clusters
// @Produce json
// @Param cluster query string true "集群名称"
// @Success 200 {object} config.Cluster
// @Failure 404 {object} response.Response
// @Router /api/v1/cluster [get]
func HandlerGetCluster(c *gin.Context) {
	var q clusterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
		return
	}
	reg := registry.Default()
	if reg == nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "cluster registry not initialized"})
		return
	}
	info, err := reg.GetClusterInfo(q.Cluster)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type detailedQuery struct {
	Cluster  string `form:"cluster" binding:"required"`
	Detailed bool   `form:"detailed"`
}

// HandlerQueueStatus 查询队列状态
// @Summary 查询集群队列摘要
// @Tags clusters
// @Produce json
// @Param cluster query string true "集群名称"
// @Param detailed query bool false "包含资源占用与近期作业"
// @Success 200 {object} model.QueueStatus
// @Failure 501 {object} response.Response
// @Router /api/v1/cluster/queue [get]
func HandlerQueueStatus(c *gin.Context) {
	var q detailedQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
		return
	}
	a, ok := getAdapter(c, q.Cluster)
	if !ok {
		return
	}
	status, err := a.GetQueueStatus(c.Request.Context(), q.Detailed)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandlerResources 查询集群资源
// @Summary 查询节点与核心统计
// @Tags clusters
// @Produce json
// @Param cluster query string true "集群名称"
// @Param detailed query bool false "包含分区与节点明细"
// @Success 200 {object} model.Resources
// @Failure 501 {object} response.Response
// @Router /api/v1/cluster/resources [get]
func HandlerResources(c *gin.Context) {
	var q detailedQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
		return
	}
	a, ok := getAdapter(c, q.Cluster)
	if !ok {
		return
	}
	res, err := a.GetResources(c.Request.Context(), q.Detailed)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type accountingQuery struct {
	Cluster   string `form:"cluster" binding:"required"`
	JobID     string `form:"job_id"`
	User      string `form:"user"`
	StartTime string `form:"start_time"`
	EndTime   string `form:"end_time"`
	Detailed  bool   `form:"detailed"`
}

// HandlerAccounting 查询历史作业记账
// @Summary 查询 slurmdbd 历史作业记录, 按页返回
// @Tags clusters
// @Produce json
// @Param cluster query string true "集群名称"
// @Param job_id query string false "按作业 ID 过滤"
// @Param user query string false "按用户过滤"
// @Param start_time query string false "起始时间 (ISO8601)"
// @Param end_time query string false "结束时间 (ISO8601)"
// @Param page query int false "页码，从 1 开始"
// @Param page_size query int false "每页数量，1-1000"
// @Param detailed query bool false "包含内存/等待时间等明细"
// @Success 200 {object} response.Response
// @Failure 502 {object} response.Response
// @Router /api/v1/cluster/accounting [get]
func HandlerAccounting(c *gin.Context) {
	var q accountingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
		return
	}

	// Paging
	var pq model.PagingQuery
	_ = c.ShouldBindQuery(&pq)
	pq.SetDefaults(1, 20, 1000)
	if err := pq.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "invalid paging parameters"})
		return
	}

	a, ok := getAdapter(c, q.Cluster)
	if !ok {
		return
	}

	// Adapters only cap by count, so fetch through the requested page and
	// slice the window locally. Total still reflects every matching record.
	// The fetch-through is bounded so an arbitrary page number cannot drive
	// an unbounded store scan; pages past the ceiling come back empty.
	limit := maxAccountingFetch
	if pq.Page <= maxAccountingFetch/pq.PageSize {
		limit = pq.Page * pq.PageSize
	}
	result, err := a.GetAccounting(c.Request.Context(), model.AccountingQuery{
		JobID:     q.JobID,
		User:      q.User,
		StartTime: q.StartTime,
		EndTime:   q.EndTime,
		Limit:     limit,
		Detailed:  q.Detailed,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	records := result.Jobs
	if offset := pq.Offset(); offset < len(records) {
		records = records[offset:]
	} else {
		records = []model.AccountingRecord{}
	}
	if len(records) > pq.PageSize {
		records = records[:pq.PageSize]
	}

	prev, next := response.BuildPageLinks(c.Request.URL, pq.Page, pq.PageSize, result.Total)
	c.JSON(http.StatusOK, response.Response{
		Count:    &result.Total,
		Previous: prev,
		Next:     next,
		Results:  records,
	})
}
