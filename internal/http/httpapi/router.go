// Package httpapi assembles the HTTP routing tree.
package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/svjack/Pixelle-Video/internal/http/handlers"
	"github.com/svjack/Pixelle-Video/internal/infra"
	"github.com/svjack/Pixelle-Video/internal/middleware"
)

func NewRouter(app *handlers.App, logger infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(logger))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/tasks", func(r chi.Router) {
		r.Post("/", app.CreateTask)
		r.Get("/", app.ListTasks)
		r.Route("/{task_id}", func(r chi.Router) {
			r.Get("/", app.GetTask)
			r.Delete("/", app.DeleteTask)
			r.Get("/storyboard", app.GetStoryboard)
			r.Post("/run", app.RunTask)
			r.Post("/cancel", app.CancelTask)
		})
	})

	return r
}
