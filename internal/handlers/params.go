package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/minirag-backend/internal/requestdata"
)

// currentUserID reads the authenticated user injected by the auth
// middleware. Routes behind RequireAuth always have it; 0 means the route
// was wired without the middleware.
func currentUserID(c *gin.Context) int {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		return 0
	}
	return rd.UserID
}

func paramInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Param(name))
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func queryIntDefault(c *gin.Context, name string, def int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	return v
}
