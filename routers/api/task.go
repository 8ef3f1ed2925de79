package api

import (
	"net/http"
	"time"

	"MusicToVideo-server/models"
	"MusicToVideo-server/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 任务进度 WebSocket 推送（以数据库为来源：先读取 DB，然后循环轮询 DB 并推送）
// 外部服务轮询并写回 DB 的逻辑由后台执行器负责，这里只订阅并推送 DB 中的最新数据。
func TaskProgressWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "WebSocket升级失败"})
		return
	}
	defer conn.Close()

	t, err := models.GetTaskByID(taskID)
	if err != nil {
		conn.WriteJSON(map[string]interface{}{"error": "task not found: " + err.Error()})
		return
	}
	_ = conn.WriteJSON(t)

	// 每秒查询一次直到任务到达终态
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prevStatus := t.Status
	prevProgress := t.Progress

	for range ticker.C {
		cur, err := models.GetTaskByID(taskID)
		if err != nil {
			continue
		}

		// 若状态/进度有变化则推送
		if cur.Status != prevStatus || cur.Progress != prevProgress {
			if err := conn.WriteJSON(cur); err != nil {
				break
			}
			prevStatus = cur.Status
			prevProgress = cur.Progress
		}

		if cur.Status == models.TaskStatusSuccess || cur.Status == models.TaskStatusFailed || cur.Status == models.TaskStatusCancelled {
			// 发送最终状态后关闭连接
			_ = conn.WriteJSON(cur)
			break
		}
	}
}

// 查询任务状态：GET /v1/api/tasks/:task_id
func GetTaskStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	t, err := models.GetTaskByID(taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": t})
}

// 取消生成运行：POST /v1/api/tasks/:task_id/cancel
// 取消会传播到所有在途任务的轮询循环，之后不再有新的提交。
func CancelTask(c *gin.Context) {
	taskID := c.Param("task_id")
	t, err := models.GetTaskByID(taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found: " + err.Error()})
		return
	}
	if t.Status != models.TaskStatusProcessing && t.Status != models.TaskStatusPending {
		c.JSON(http.StatusConflict, gin.H{"error": "task is not running", "status": t.Status})
		return
	}
	cancelled := service.CancelRun(taskID)
	if !cancelled {
		// 运行可能尚未被 worker 取走，直接标记取消
		t.UpdateStatus(models.GormDB, models.TaskStatusCancelled, nil, "cancelled before start")
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": taskID, "in_flight": cancelled})
}
