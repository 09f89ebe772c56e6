package server

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	green      = "\033[32m"
	yellow     = "\033[33m"
	blue       = "\033[34m"
	magenta    = "\033[35m"
	cyan       = "\033[36m"
	gray       = "\033[90m"
	resetColor = "\033[0m"
)

const proxyMethod = "PROXY"

var methodColors = map[string]string{
	"GET":       green,
	"POST":      blue,
	"PUT":       cyan,
	"DELETE":    yellow,
	"PATCH":     magenta,
	proxyMethod: magenta,
}

// logRoutes prints the route table once at startup in development
func (s *Server) logRoutes() {
	if !s.config.IsDevelopment() {
		return
	}
	for _, route := range s.Routes() {
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "*", route
		}
		log.Info().Msgf("[%s] %s", colouredMethod(method), path)
	}
}

func colouredMethod(method string) string {
	padded := fmt.Sprintf(" %-7s", method)
	colour, ok := methodColors[method]
	if !ok {
		colour = gray
	}
	return colour + padded + resetColor
}
