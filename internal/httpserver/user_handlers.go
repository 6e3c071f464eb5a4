package httpserver

import (
	"net/http"

	"go.uber.org/zap"

	"pairchat/internal/domain"
	"pairchat/internal/presence"
	"pairchat/internal/service"
)

type discoverEntry struct {
	domain.Profile
	Online bool `json:"online"`
}

// @Summary      Discover people
// @Description  List every other active user with their online state
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}   discoverEntry
// @Router       /users/discover [get]
func handleDiscover(userSvc *service.UserService, registry *presence.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		profiles, err := userSvc.Discover(r.Context(), currentUser.ID)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		res := make([]discoverEntry, 0, len(profiles))
		for _, p := range profiles {
			_, online := registry.Lookup(p.UserID)
			res = append(res, discoverEntry{Profile: p, Online: online})
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// @Summary      Online users
// @Description  IDs of users with a live websocket connection
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}   integer
// @Router       /users/online [get]
func handleListOnlineUsers(registry *presence.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, registry.OnlineUserIDs())
	}
}

// @Summary      Get user profile
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Param        userID path int true "User ID"
// @Success      200  {object}  domain.Profile
// @Failure      404  {object}  map[string]string
// @Router       /users/{userID} [get]
func handleGetUser(userSvc *service.UserService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := userIDParam(r)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		profile, err := userSvc.Profile(r.Context(), id)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}
