package cluster

import "github.com/gin-gonic/gin"

type Router struct{}

func (Router) Register(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	{
		g := v1.Group("/cluster")
		g.GET("/all", HandlerListClusters)
		g.GET("", HandlerGetCluster)
		g.GET("/queue", HandlerQueueStatus)
		g.GET("/resources", HandlerResources)
		g.GET("/accounting", HandlerAccounting)
	}
}
