package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

const alertsPrefix = "/api/alerts/"

// RegisterAlertRoutes 注册报警路由
func (r *Router) RegisterAlertRoutes(h *AlertHandler) {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.Health(w, req)
	})

	r.Handle("/api/alerts", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.ListActive(w, req)
	})

	r.Handle(alertsPrefix, func(w http.ResponseWriter, req *http.Request) {
		rest := strings.Trim(strings.TrimPrefix(req.URL.Path, alertsPrefix), "/")
		head, tail, _ := strings.Cut(rest, "/")

		switch {
		case rest == "":
			if req.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			h.ListActive(w, req)

		case rest == "log":
			if req.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			h.ListLog(w, req)

		case rest == "log/export":
			if req.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			h.ExportLog(w, req)

		case rest == "counts":
			if req.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			h.Counts(w, req)

		case rest == "evaluate":
			if req.Method != http.MethodPost {
				methodNotAllowed(w)
				return
			}
			h.Evaluate(w, req)

		case head == "suppress":
			if req.Method != http.MethodPost {
				methodNotAllowed(w)
				return
			}
			if strings.Contains(tail, "/") {
				writeJSON(w, http.StatusNotFound, Fail("not found"))
				return
			}
			h.Suppress(w, req, tail)

		case head == "reset":
			if req.Method != http.MethodPost {
				methodNotAllowed(w)
				return
			}
			if tail == "" || strings.Contains(tail, "/") {
				writeJSON(w, http.StatusNotFound, Fail("not found"))
				return
			}
			h.ResetRiskHistory(w, req, tail)

		case tail == "":
			if req.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			h.GetAlert(w, req, head)

		default:
			writeJSON(w, http.StatusNotFound, Fail("not found"))
		}
	})
}
