package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/executor"
	"github.com/BaSui01/pipeflow/graph"
	"github.com/BaSui01/pipeflow/internal/ctxkeys"
	"github.com/BaSui01/pipeflow/state"
	"github.com/BaSui01/pipeflow/types"
)

// =============================================================================
// 🔀 运行管理 Handler
// =============================================================================

// RunService is the part of the executor the run endpoints use.
type RunService interface {
	Run(ctx context.Context, req executor.RunRequest) (*state.RunState, error)
	Resume(ctx context.Context, runID string, humanInput map[string]any) (*state.RunState, error)
	Recover(ctx context.Context, runID string) (*state.RunState, error)
	Abort(ctx context.Context, runID, reason string) (*state.RunState, error)
	Get(ctx context.Context, runID string) (*state.RunState, error)
	List(ctx context.Context) ([]string, error)
	Graph(id string) (*graph.Graph, bool)
	Graphs() []*graph.Graph
}

// StartRunRequest 启动运行请求
type StartRunRequest struct {
	RunID      string         `json:"run_id,omitempty"`
	GraphID    string         `json:"graph_id"`
	EntryPoint string         `json:"entry_point,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	// Wait 为 true 时请求阻塞到运行暂停或结束
	Wait bool `json:"wait,omitempty"`
}

// ResumeRunRequest 恢复运行请求
type ResumeRunRequest struct {
	Input map[string]any `json:"input,omitempty"`
	Wait  bool           `json:"wait,omitempty"`
}

// AbortRunRequest 中止运行请求
type AbortRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RunAccepted 异步启动或恢复的响应
type RunAccepted struct {
	RunID   string `json:"run_id"`
	GraphID string `json:"graph_id,omitempty"`
}

// GraphInfo 图概要
type GraphInfo struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Version     string            `json:"version,omitempty"`
	Goal        string            `json:"goal,omitempty"`
	Entry       string            `json:"entry"`
	EntryPoints map[string]string `json:"entry_points,omitempty"`
	Inputs      []string          `json:"inputs,omitempty"`
	Steps       int               `json:"steps"`
	Transitions int               `json:"transitions"`
	Terminal    []string          `json:"terminal_steps"`
	Pause       []string          `json:"pause_steps,omitempty"`
}

// RunHandler 运行管理处理器。异步运行在 Close 时被中断并等待其落盘
type RunHandler struct {
	svc    RunService
	logger *zap.Logger

	baseCtx context.Context
	cancel  context.CancelCauseFunc
	wg      sync.WaitGroup
}

// NewRunHandler 创建运行处理器
func NewRunHandler(svc RunService, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &RunHandler{
		svc:     svc,
		logger:  logger.With(zap.String("component", "run_handler")),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Close 中断后台运行：在途步骤照常完成，运行在下一步边界以 running 状态
// 写入检查点后退出，重启后由 RecoverInterrupted 继续
func (h *RunHandler) Close(ctx context.Context) error {
	h.cancel(executor.ErrInterrupted)
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register 注册路由
func (h *RunHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/graphs", h.HandleListGraphs)
	mux.HandleFunc("GET /v1/graphs/{id}", h.HandleGetGraph)
	mux.HandleFunc("GET /v1/runs", h.HandleListRuns)
	mux.HandleFunc("POST /v1/runs", h.HandleStartRun)
	mux.HandleFunc("GET /v1/runs/{id}", h.HandleGetRun)
	mux.HandleFunc("POST /v1/runs/{id}/resume", h.HandleResumeRun)
	mux.HandleFunc("POST /v1/runs/{id}/abort", h.HandleAbortRun)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleListGraphs 列出已注册的图
func (h *RunHandler) HandleListGraphs(w http.ResponseWriter, r *http.Request) {
	gs := h.svc.Graphs()
	out := make([]GraphInfo, 0, len(gs))
	for _, g := range gs {
		out = append(out, toGraphInfo(g))
	}
	WriteSuccess(w, r, out)
}

// HandleGetGraph 返回图的完整定义
func (h *RunHandler) HandleGetGraph(w http.ResponseWriter, r *http.Request) {
	g, ok := h.svc.Graph(r.PathValue("id"))
	if !ok {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrGraphNotFound, "graph not found", h.logger)
		return
	}
	WriteSuccess(w, r, g.Definition())
}

// HandleListRuns 列出有检查点的运行
func (h *RunHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.List(r.Context())
	if err != nil {
		WriteError(w, r, runError(err, ""), h.logger)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	WriteSuccess(w, r, ids)
}

// HandleStartRun 启动运行。默认异步返回 202，wait=true 时同步返回最终状态
func (h *RunHandler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	if apiErr := ValidateContentType(r); apiErr != nil {
		WriteError(w, r, apiErr, h.logger)
		return
	}
	var req StartRunRequest
	if apiErr := DecodeJSONBody(w, r, &req); apiErr != nil {
		WriteError(w, r, apiErr, h.logger)
		return
	}
	if req.GraphID == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "graph_id is required", h.logger)
		return
	}

	runReq := executor.RunRequest{
		RunID:      req.RunID,
		GraphID:    req.GraphID,
		EntryPoint: req.EntryPoint,
		Input:      req.Input,
	}

	if req.Wait {
		rs, err := h.svc.Run(ctxkeys.WithRunID(r.Context(), req.RunID), runReq)
		if err != nil {
			WriteError(w, r, runError(err, req.RunID), h.logger)
			return
		}
		WriteSuccess(w, r, rs)
		return
	}

	if apiErr := h.precheck(r.Context(), &runReq); apiErr != nil {
		WriteError(w, r, apiErr, h.logger)
		return
	}
	h.background(requestID(r), runReq.RunID, "start", func(ctx context.Context) (*state.RunState, error) {
		return h.svc.Run(ctx, runReq)
	})
	WriteStatus(w, r, http.StatusAccepted, RunAccepted{RunID: runReq.RunID, GraphID: runReq.GraphID})
}

// precheck 在异步启动前完成可同步发现的错误校验，并分配 run id
func (h *RunHandler) precheck(ctx context.Context, req *executor.RunRequest) *types.Error {
	g, ok := h.svc.Graph(req.GraphID)
	if !ok {
		return types.NewError(types.ErrGraphNotFound, "graph not found")
	}
	if _, ok := g.EntryPoint(req.EntryPoint); !ok {
		return types.NewError(types.ErrInvalidRequest, "unknown entry point "+req.EntryPoint)
	}
	if _, err := state.NewContext(req.Input); err != nil {
		return types.NewError(types.ErrInvalidRequest, "input is not serializable").WithCause(err)
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
		return nil
	}
	if _, err := h.svc.Get(ctx, req.RunID); err == nil {
		return types.NewError(types.ErrConflict, "run already exists").WithRunID(req.RunID)
	}
	return nil
}

// HandleGetRun 返回运行状态
func (h *RunHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	rs, err := h.svc.Get(r.Context(), runID)
	if err != nil {
		WriteError(w, r, runError(err, runID), h.logger)
		return
	}
	WriteSuccess(w, r, rs)
}

// HandleResumeRun 以人工输入恢复暂停的运行
func (h *RunHandler) HandleResumeRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if apiErr := ValidateContentType(r); apiErr != nil {
		WriteError(w, r, apiErr, h.logger)
		return
	}
	var req ResumeRunRequest
	if apiErr := DecodeJSONBody(w, r, &req); apiErr != nil {
		WriteError(w, r, apiErr, h.logger)
		return
	}

	if req.Wait {
		rs, err := h.svc.Resume(ctxkeys.WithRunID(r.Context(), runID), runID, req.Input)
		if err != nil {
			WriteError(w, r, runError(err, runID), h.logger)
			return
		}
		WriteSuccess(w, r, rs)
		return
	}

	rs, err := h.svc.Get(r.Context(), runID)
	if err != nil {
		WriteError(w, r, runError(err, runID), h.logger)
		return
	}
	if rs.Status != state.StatusPaused {
		WriteError(w, r, types.NewError(types.ErrRunNotPaused, "run is "+string(rs.Status)).WithRunID(runID), h.logger)
		return
	}
	h.background(requestID(r), runID, "resume", func(ctx context.Context) (*state.RunState, error) {
		return h.svc.Resume(ctx, runID, req.Input)
	})
	WriteStatus(w, r, http.StatusAccepted, RunAccepted{RunID: runID, GraphID: rs.GraphID})
}

// HandleAbortRun 中止运行
func (h *RunHandler) HandleAbortRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	var req AbortRunRequest
	if apiErr := DecodeJSONBody(w, r, &req); apiErr != nil {
		WriteError(w, r, apiErr, h.logger)
		return
	}
	if req.Reason == "" {
		if sub, ok := ctxkeys.Subject(r.Context()); ok {
			req.Reason = "aborted by " + sub
		}
	}
	rs, err := h.svc.Abort(r.Context(), runID, req.Reason)
	if err != nil {
		WriteError(w, r, runError(err, runID), h.logger)
		return
	}
	WriteSuccess(w, r, rs)
}

// RecoverInterrupted 在后台继续所有以 running 状态停在检查点上的运行，
// 返回已提交的数量。被其他进程持有租约的运行会因 RUN_BUSY 跳过
func (h *RunHandler) RecoverInterrupted(ctx context.Context) (int, error) {
	ids, err := h.svc.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		rs, err := h.svc.Get(ctx, id)
		if err != nil {
			h.logger.Warn("skip unreadable checkpoint", zap.String("run_id", id), zap.Error(err))
			continue
		}
		if rs.Status != state.StatusRunning {
			continue
		}
		h.background("", id, "recover", func(ctx context.Context) (*state.RunState, error) {
			return h.svc.Recover(ctx, id)
		})
		n++
	}
	return n, nil
}

// background 在 handler 的生命周期上下文中驱动运行，与请求解耦
func (h *RunHandler) background(reqID, runID, op string, fn func(context.Context) (*state.RunState, error)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		start := time.Now()
		ctx := ctxkeys.WithRunID(h.baseCtx, runID)
		if reqID != "" {
			ctx = ctxkeys.WithRequestID(ctx, reqID)
		}
		rs, err := fn(ctx)
		if errors.Is(err, executor.ErrInterrupted) {
			h.logger.Info("background run interrupted",
				zap.String("op", op),
				zap.String("run_id", runID),
				zap.String("step_id", rs.CurrentStep),
			)
			return
		}
		if err != nil {
			h.logger.Error("background run failed",
				zap.String("op", op),
				zap.String("run_id", runID),
				zap.String("request_id", reqID),
				zap.Error(err),
			)
			return
		}
		h.logger.Info("background run returned",
			zap.String("op", op),
			zap.String("run_id", runID),
			zap.String("status", string(rs.Status)),
			zap.Duration("duration", time.Since(start)),
		)
	}()
}

func toGraphInfo(g *graph.Graph) GraphInfo {
	def := g.Definition()
	info := GraphInfo{
		ID:          g.ID(),
		Name:        g.Name(),
		Version:     g.Version(),
		Goal:        g.GoalID(),
		Entry:       g.Entry(),
		Inputs:      g.Inputs(),
		Steps:       g.NumSteps(),
		Transitions: g.NumTransitions(),
		Terminal:    g.TerminalSteps(),
		Pause:       g.PauseSteps(),
	}
	if len(def.EntryPoints) > 0 {
		info.EntryPoints = make(map[string]string, len(def.EntryPoints))
		for k, v := range def.EntryPoints {
			info.EntryPoints[k] = v
		}
	}
	sort.Strings(info.Terminal)
	return info
}
