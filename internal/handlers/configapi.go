package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/xicheng412/CliCast/internal/config"
	"github.com/xicheng412/CliCast/internal/pathguard"
)

// ConfigHandlers reads and updates the server configuration file. The auth
// block is never exposed or writable through this surface.
type ConfigHandlers struct {
	Config *config.Store
}

// configView is the config projection returned to clients: everything except
// credentials.
type configView struct {
	Version     string             `json:"version"`
	Port        int                `json:"port"`
	AllowedDirs []string           `json:"allowedDirs"`
	AICommands  []config.AICommand `json:"aiCommands"`
}

// Get handles GET /api/config.
func (h *ConfigHandlers) Get(w http.ResponseWriter, r *http.Request) {
	cfg := h.Config.Get()
	writeData(w, http.StatusOK, configView{
		Version:     cfg.Version,
		Port:        cfg.Port,
		AllowedDirs: cfg.AllowedDirs,
		AICommands:  cfg.AICommands,
	})
}

// Update handles PUT /api/config. The port, allow-list and command catalog
// are updatable; a port change is saved but takes effect on restart.
func (h *ConfigHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Port        *int                `json:"port"`
		AllowedDirs *[]string           `json:"allowedDirs"`
		AICommands  *[]config.AICommand `json:"aiCommands"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if body.AllowedDirs != nil {
		for _, dir := range *body.AllowedDirs {
			if _, err := pathguard.Canonicalize(dir); err != nil {
				writeError(w, http.StatusBadRequest, "allowedDirs entries must be absolute paths")
				return
			}
		}
	}
	if body.AICommands != nil {
		for i := range *body.AICommands {
			if (*body.AICommands)[i].Cmd == "" {
				writeError(w, http.StatusBadRequest, "aiCommands entries must have a cmd")
				return
			}
			if (*body.AICommands)[i].ID == "" {
				(*body.AICommands)[i].ID = uuid.New().String()
			}
		}
	}

	err := h.Config.Update(func(c *config.Config) error {
		if body.Port != nil {
			c.Port = *body.Port
		}
		if body.AllowedDirs != nil {
			c.AllowedDirs = *body.AllowedDirs
		}
		if body.AICommands != nil {
			c.AICommands = *body.AICommands
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save config")
		return
	}

	h.Get(w, r)
}
