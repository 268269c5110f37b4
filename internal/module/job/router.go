package job

import "github.com/gin-gonic/gin"

type Router struct{}

func (Router) Register(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	{
		g := v1.Group("/job")
		g.POST("/submit", HandlerSubmitJob)
		g.GET("", HandlerGetJob)
		g.GET("/all", HandlerListJobs)
		g.DELETE("", HandlerCancelJob)
		g.GET("/output", HandlerJobOutput)
		g.POST("/wait", HandlerRunJob)
		g.POST("/batch", HandlerSubmitBatch)
	}
}
