package handlers

import (
	"net/http"

	"github.com/xicheng412/CliCast/internal/database"
)

// Health handles GET /api/health.
func Health(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	if database.DB != nil {
		dbStatus = "disconnected"
		if sqlDB, err := database.DB.DB(); err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	writeData(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"database": dbStatus,
	})
}
