package handlers

import "github.com/gin-gonic/gin"

// Register mounts the local API on r.
func Register(r gin.IRoutes, sessions *SessionHandler, rooms *RoomHandler, calls *CallHandler) {
	r.GET("/sessions", sessions.ListSessions)
	r.POST("/sessions", sessions.OpenSession)
	r.DELETE("/sessions/:room_id", sessions.CloseSession)
	r.POST("/sessions/:room_id/toggle", sessions.ToggleMinimize)
	r.GET("/focus", sessions.GetFocus)
	r.PUT("/focus", sessions.SetWindowFocus)

	r.POST("/rooms/:room_id/mount", rooms.MountRoom)
	r.DELETE("/rooms/:room_id/mount", rooms.UnmountRoom)
	r.GET("/rooms/:room_id/messages", rooms.GetMessages)
	r.POST("/rooms/:room_id/messages", rooms.PostMessage)
	r.POST("/rooms/:room_id/older", rooms.LoadOlder)
	r.PATCH("/rooms/:room_id/messages/:message_id", rooms.EditMessage)
	r.DELETE("/rooms/:room_id/messages/:message_id", rooms.DeleteMessage)

	r.POST("/calls", calls.Initiate)
	r.GET("/calls/current", calls.Current)
	r.POST("/calls/accept", calls.Accept)
	r.POST("/calls/reject", calls.Reject)
	r.POST("/calls/hangup", calls.HangUp)
}
