package api

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.ReviewerInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	records := s.router.Group("/records")
	{
		records.GET("", s.recordsHandler.ListRecords)
		records.GET("/failed", s.recordsHandler.ListFailed)
		records.GET("/:id", s.recordsHandler.GetRecord)
		records.POST("/:id/requeue", s.recordsHandler.Requeue)
	}

	system := s.router.Group("/system")
	{
		system.GET("/stats", s.systemHandler.GetStats)
		system.GET("/debug", s.systemHandler.GetDebugInfo)
	}
}
