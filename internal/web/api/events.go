package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ixugo/goddd/pkg/web"
)

const eventBuffer = 64

// events 以 SSE 推送编辑、导出与播放事件
//
// 订阅者处理不及时会丢事件，客户端收到 change 后应以接口数据为准。
func (a ProjectAPI) events(c *gin.Context) {
	s, err := a.session(c)
	if err != nil {
		web.Fail(c, err)
		return
	}
	edits, cancelEdits := s.Subscribe(eventBuffer)
	defer cancelEdits()
	plays, cancelPlays := s.Player().Subscribe(eventBuffer)
	defer cancelPlays()

	rc := http.NewResponseController(c.Writer)
	_ = rc.SetWriteDeadline(time.Time{})

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("hello", gin.H{"project": s.ID(), "active": s.Active()})
	c.Writer.Flush()

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()
	c.Stream(func(io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case e, ok := <-edits:
			if !ok {
				return false
			}
			c.SSEvent("project", e)
		case e, ok := <-plays:
			if !ok {
				return false
			}
			c.SSEvent("playback", e)
		case <-ping.C:
			c.SSEvent("ping", time.Now().UnixMilli())
		}
		return true
	})
}
