package routers

import (
	"MusicToVideo-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter() *gin.Engine {
	r := gin.Default()
	r.Static("/static", "./static")
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.DELETE("/projects/:project_id", api.DeleteProject)
		v1.GET("/projects/:project_id/scenes", api.GetScenes)
		v1.GET("/projects/:project_id/scenes/:scene_id", api.GetSceneDetail)
		v1.POST("/projects/:project_id/references", api.AddCharacterRef)
		v1.GET("/tasks/:task_id", api.GetTaskStatus)
		v1.POST("/tasks/:task_id/cancel", api.CancelTask)
	}
	r.GET("/tasks/:task_id/wss", api.TaskProgressWebSocket)
	return r
}
