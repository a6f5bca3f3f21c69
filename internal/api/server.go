// Package api exposes the runtime over HTTP: upload a graph container, get a
// handle back, run it with host tensors. It is the service analogue of the
// load/run host-binding boundary.
package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/lattice/internal/delegate"
	"github.com/samcharles93/lattice/internal/executor"
	"github.com/samcharles93/lattice/internal/graph"
	"github.com/samcharles93/lattice/internal/kernel"
	"github.com/samcharles93/lattice/internal/loader"
	"github.com/samcharles93/lattice/internal/logger"
)

type Server struct {
	store  *GraphStore
	loader *loader.Loader
	exec   *executor.Executor
	log    logger.Logger
	clock  func() time.Time
}

func NewServer(store *GraphStore, ldr *loader.Loader, exec *executor.Executor, log logger.Logger) *Server {
	if store == nil {
		store = NewGraphStore()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		store:  store,
		loader: ldr,
		exec:   exec,
		log:    log,
		clock:  time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/graphs", s.handleCreateGraph)
	e.GET("/v1/graphs", s.handleListGraphs)
	e.GET("/v1/graphs/:id", s.handleGetGraph)
	e.DELETE("/v1/graphs/:id", s.handleDeleteGraph)
	e.POST("/v1/graphs/:id/run", s.handleRunGraph)
}

func (s *Server) handleCreateGraph(c *echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxGraphBytes+1))
	if err != nil {
		return writeBadRequest(c, "read body: "+err.Error())
	}
	if len(body) == 0 {
		return writeBadRequest(c, "empty graph container")
	}
	if len(body) > maxGraphBytes {
		return writeError(c, http.StatusRequestEntityTooLarge, "invalid_request_error",
			"graph container exceeds size limit", nil, "")
	}

	plan, err := s.loader.Load(body)
	if err != nil {
		return writeLoadError(c, err)
	}

	entry := &Entry{
		ID:        "graph_" + uuid.NewString(),
		Name:      plan.Graph.Name,
		CreatedAt: s.clock(),
		Plan:      plan,
		raw:       body,
	}
	s.store.Add(entry)
	s.log.Info("graph loaded", "id", entry.ID, "name", entry.Name, "nodes", len(plan.Graph.Nodes))
	return c.JSON(http.StatusCreated, graphInfo(entry))
}

func (s *Server) handleListGraphs(c *echo.Context) error {
	entries := s.store.List()
	out := GraphList{Graphs: make([]GraphInfo, 0, len(entries))}
	for _, e := range entries {
		out.Graphs = append(out.Graphs, graphInfo(e))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetGraph(c *echo.Context) error {
	entry, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "no such graph")
	}
	return c.JSON(http.StatusOK, graphInfo(entry))
}

func (s *Server) handleDeleteGraph(c *echo.Context) error {
	entry, ok := s.store.Remove(c.Param("id"))
	if !ok {
		return writeNotFound(c, "no such graph")
	}
	if err := entry.Plan.Close(); err != nil {
		s.log.Warn("close plan", "id", entry.ID, "err", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRunGraph(c *echo.Context) error {
	entry, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "no such graph")
	}
	req, err := decodeJSON[RunRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	inputs := make([]executor.Value, len(req.Inputs))
	for i, in := range req.Inputs {
		inputs[i] = executor.Value{Name: in.Name, F32: in.F32, I32: in.I32}
	}

	res, err := s.exec.Run(c.Request().Context(), entry.Plan, inputs)
	if err != nil {
		return writeRunError(c, res, err)
	}

	out := RunResponse{
		Outputs:    make([]RunOutput, len(res.Outputs)),
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
	}
	for i, v := range res.Outputs {
		out.Outputs[i] = RunOutput{Name: v.Name, F32: v.F32, I32: v.I32}
	}
	return c.JSON(http.StatusOK, out)
}

func graphInfo(e *Entry) GraphInfo {
	g := e.Plan.Graph
	info := GraphInfo{
		ID:        e.ID,
		Name:      e.Name,
		Nodes:     len(g.Nodes),
		Tensors:   len(g.Tensors),
		Steps:     len(e.Plan.Steps),
		ArenaSize: e.Plan.ArenaSize,
		CreatedAt: e.CreatedAt,
	}
	for _, t := range g.Inputs {
		info.Inputs = append(info.Inputs, tensorInfo(&g.Tensors[t]))
	}
	for _, t := range g.Outputs {
		info.Outputs = append(info.Outputs, tensorInfo(&g.Tensors[t]))
	}
	seen := map[string]bool{}
	for i := range g.Nodes {
		if d := g.Nodes[i].Delegate; d != "" && !seen[d] {
			seen[d] = true
			info.Delegates = append(info.Delegates, d)
		}
	}
	return info
}

func tensorInfo(t *graph.Tensor) TensorInfo {
	return TensorInfo{Name: t.Name, DType: t.DType.String(), Shape: t.Shape}
}

// writeLoadError maps load-time taxonomy errors onto HTTP statuses.
func writeLoadError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, graph.ErrVersionMismatch):
		return writeError(c, http.StatusBadRequest, "version_mismatch", err.Error(), nil, "")
	case errors.Is(err, graph.ErrMalformedGraph):
		return writeError(c, http.StatusBadRequest, "malformed_graph", err.Error(), nil, "")
	case errors.Is(err, kernel.ErrUnsupportedOperator):
		return writeError(c, http.StatusBadRequest, "unsupported_operator", err.Error(), nil, "")
	case errors.Is(err, delegate.ErrDelegateCompile):
		return writeError(c, http.StatusBadRequest, "delegate_compile_error", err.Error(), nil, "")
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), nil, "")
	}
}

// writeRunError distinguishes caller mistakes (bad inputs) from invocation
// failures, which surface the failing node or delegate unit.
func writeRunError(c *echo.Context, res *executor.Result, err error) error {
	if res == nil || res.State != executor.Failed {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), nil, "")
	}
	if res.FailedUnit != "" {
		return writeError(c, http.StatusUnprocessableEntity, "delegate_execution_error", err.Error(), nil, res.FailedUnit)
	}
	if res.FailedNode >= 0 {
		node := res.FailedNode
		return writeError(c, http.StatusUnprocessableEntity, "execution_error", err.Error(), &node, "")
	}
	return writeBadRequest(c, err.Error())
}
