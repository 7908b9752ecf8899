package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const apiShutdownTimeout = 5 * time.Second

type playersResponse struct {
	Online int `json:"online"`
	Max    int `json:"max"`
}

// serverResponse is a configured server without its forwarding secret
type serverResponse struct {
	ServerId   string         `json:"server_id"`
	ServerName string         `json:"server_name"`
	Address    string         `json:"address"`
	Forwarding ForwardingKind `json:"forwarding"`
}

// NewApiRouter serves read-only views of the proxy state. The prometheus registry is exposed
// on /metrics when withMetrics is set.
func NewApiRouter(state *ProxyState, withMetrics bool) *mux.Router {
	apiRoutes := mux.NewRouter()

	apiRoutes.Path("/players").Methods("GET").
		HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			players := state.StatusPlayers()
			writeJson(writer, playersResponse{Online: state.CurrentPlayers(), Max: players.Max})
		})

	apiRoutes.Path("/servers").Methods("GET").
		HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			servers := make([]serverResponse, 0, len(state.Config.Servers))
			for _, id := range state.Config.ServerIds() {
				server, _ := state.Config.LookupServer(id)
				servers = append(servers, serverResponse{
					ServerId:   server.ServerId,
					ServerName: server.ServerName,
					Address:    server.Address(),
					Forwarding: state.Config.ForwardingFor(server).Kind,
				})
			}
			writeJson(writer, servers)
		})

	if withMetrics {
		apiRoutes.Path("/metrics").Handler(promhttp.Handler())
	}

	return apiRoutes
}

func writeJson(writer http.ResponseWriter, value interface{}) {
	bytes, err := json.Marshal(value)
	if err != nil {
		logrus.WithError(err).Error("Failed to marshal API response")
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	_, err = writer.Write(bytes)
	if err != nil {
		logrus.WithError(err).Error("Failed to write API response")
	}
}

// RunApiServer serves handler on apiBinding until ctx is done
func RunApiServer(ctx context.Context, apiBinding string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:    apiBinding,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("API server did not shut down cleanly")
		}
	}()

	logrus.WithField("binding", apiBinding).Info("Serving API requests")
	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
