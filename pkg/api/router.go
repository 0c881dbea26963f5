package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"pairchat/pkg/api/handlers"
	"pairchat/pkg/auth"
	"pairchat/pkg/chat"
	"pairchat/pkg/media"
	"pairchat/pkg/store"
	"pairchat/pkg/telemetry"
	"pairchat/pkg/ws"
)

// RouterOptions collects everything the HTTP surface needs.
type RouterOptions struct {
	Service *chat.Service
	Media   media.Storage
	Sec     auth.SecConfig
	// DocsDir holds openapi.yaml; swagger UI is skipped when empty.
	DocsDir string
	// MediaDir is served read-only under /media/ when set.
	MediaDir string
	Version  string
}

// NewRouter assembles the full HTTP surface: system endpoints, the
// authenticated /v1 API and the websocket gateway.
func NewRouter(opts RouterOptions) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyzHandler(opts.Version)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if opts.DocsDir != "" {
		r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
		r.Handle("/openapi.yaml", http.FileServer(http.Dir(opts.DocsDir)))
	}
	if opts.MediaDir != "" {
		r.PathPrefix("/media/").Handler(http.StripPrefix("/media/", http.FileServer(http.Dir(opts.MediaDir))))
	}

	identified := r.NewRoute().Subrouter()
	identified.Use(auth.RequireUser(opts.Sec))

	v1 := identified.PathPrefix("/v1").Subrouter()
	handlers.RegisterChats(v1.PathPrefix("/chats").Subrouter(), opts.Service)
	handlers.RegisterMedia(v1.PathPrefix("/media").Subrouter(), opts.Media)

	gw := ws.NewGateway(opts.Service, opts.Sec.AllowedOrigins)
	gw.RegisterRoutes(identified)

	var h http.Handler = r
	h = auth.AuthenticateRequestMiddleware(opts.Sec)(h)
	h = telemetry.Middleware(h)
	return h
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func readyzHandler(version string) http.HandlerFunc {
	if version == "" {
		version = "dev"
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !store.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + version + `"}`))
	}
}
