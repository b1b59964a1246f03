// Package server is the HTTP service dispatcher: it maps the
// container.create/start/stop/destroy/query/list events of the wire
// contract onto a registry.Registry, and mounts the process's Prometheus
// registry for scraping. Grounded on this codebase's net/server package
// (the functional-options server + gorilla/mux router construction),
// generalized from pool CRUD to container lifecycle calls.
package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/boz/contiman/cerrors"
	"github.com/boz/contiman/metrics"
	enet "github.com/boz/contiman/net"
	"github.com/boz/contiman/registry"
	"github.com/boz/contiman/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Server interface {
	Address() string
	Run() error
	Close()
}

type Opt func(*server) error

func WithAddress(address string) Opt {
	return func(s *server) error {
		s.address = address
		return nil
	}
}

func WithRegistry(reg registry.Registry) Opt {
	return func(s *server) error {
		s.reg = reg
		return nil
	}
}

func WithLog(l logrus.FieldLogger) Opt {
	return func(s *server) error {
		s.l = l
		return nil
	}
}

type server struct {
	address string
	reg     registry.Registry
	l       logrus.FieldLogger

	listener *net.TCPListener
	srv      *http.Server
}

func New(opts ...Opt) (Server, error) {
	s := &server{
		address: enet.DefaultListenAddress,
		l:       logrus.StandardLogger(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.reg == nil {
		return nil, errors.New("WithRegistry required")
	}

	r := mux.NewRouter()

	r.HandleFunc(enet.BasePath, s.handleCreate).Methods("POST")
	r.HandleFunc(enet.ListPath, s.handleList).Methods("GET")
	r.HandleFunc(enet.BasePath+"/{id}", s.handleQuery).Methods("GET")
	r.HandleFunc(enet.BasePath+"/{id}", s.handleDestroy).Methods("DELETE")
	r.HandleFunc(enet.BasePath+"/{id}/start", s.handleStart).Methods("POST")
	r.HandleFunc(enet.BasePath+"/{id}/stop", s.handleStop).Methods("POST")
	r.Handle(enet.MetricsPath, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	l, err := net.Listen("tcp", s.address)
	if err != nil {
		return nil, err
	}
	s.listener = l.(*net.TCPListener)

	s.srv = &http.Server{Handler: r}

	return s, nil
}

func (s *server) Run() error {
	return s.srv.Serve(s.listener)
}

func (s *server) Close() {
	s.listener.Close()
}

func (s *server) Address() string {
	return s.listener.Addr().String()
}

type createRequest struct {
	ID   types.ID        `json:"id"`
	Conf json.RawMessage `json:"conf"`
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, cerrors.NewInvalidArgument(err.Error()))
		return
	}

	if err := s.reg.Create(r.Context(), req.ID, req.Conf); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	id := types.ID(mux.Vars(r)["id"])

	if err := s.reg.Destroy(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type stopRequest struct {
	Force bool `json:"force"`
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := types.ID(mux.Vars(r)["id"])

	if err := s.reg.Start(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := types.ID(mux.Vars(r)["id"])

	var req stopRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, cerrors.NewInvalidArgument(err.Error()))
			return
		}
	}

	if err := s.reg.Stop(r.Context(), id, req.Force); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	id := types.ID(mux.Vars(r)["id"])

	snap, err := s.reg.Query(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, snap)
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	ids, err := s.reg.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, struct {
		IDs []types.ID `json:"ids"`
	}{IDs: ids})
}

func (s *server) writeJSON(w http.ResponseWriter, obj interface{}) {
	buf, err := json.Marshal(obj)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", enet.RPCContentType)
	w.Write(buf)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Message: err.Error()}

	if kind, ok := cerrors.KindOf(err); ok {
		body.Kind = string(kind)
		switch kind {
		case cerrors.KindInvalidConfig, cerrors.KindInvalidArgument:
			status = http.StatusBadRequest
		case cerrors.KindNotFound:
			status = http.StatusNotFound
		case cerrors.KindConflict:
			status = http.StatusConflict
		}
	}

	s.l.WithError(err).WithField("status", status).Debug("request failed")

	buf, merr := json.Marshal(body)
	if merr != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", enet.RPCContentType)
	w.WriteHeader(status)
	w.Write(buf)
}
