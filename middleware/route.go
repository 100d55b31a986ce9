package middleware

import (
	"github.com/gin-gonic/gin"
)

// RouteOpt controls per-route behavior.
type RouteOpt struct {
	IsAuth bool
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt, auth gin.HandlerFunc) {
	if opt.IsAuth {
		r.POST(path, auth, handler)
	} else {
		r.POST(path, handler)
	}
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt, auth gin.HandlerFunc) {
	if opt.IsAuth {
		r.GET(path, auth, handler)
	} else {
		r.GET(path, handler)
	}
}
