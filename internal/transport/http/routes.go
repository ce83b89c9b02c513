package http

import "github.com/labstack/echo/v4"

func SetupRoutes(e *echo.Echo, h *Handlers) {
	e.GET("/health", h.Health)

	api := e.Group("/api/v1")

	// Customer side
	api.POST("/services/:serviceId/tickets", h.JoinLine)
	api.GET("/tickets/:ticketId", h.GetTicket)
	api.GET("/tickets/:ticketId/subscribe-token", h.SubscribeToken)

	// Counter staff
	api.PUT("/tickets/call-next/:lineId", h.CallNext)
	api.PUT("/tickets/finish/:ticketId", h.FinishTicket)
	api.PUT("/tickets/cancel/:ticketId", h.CancelTicket)
	api.GET("/lines/:lineId/positions", h.LinePositions)
	api.POST("/tickets/predict-time", h.PredictTime)
}
