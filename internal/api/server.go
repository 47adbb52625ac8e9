package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"OpenPrompt-Chain/internal/chain"
	xerrors "OpenPrompt-Chain/internal/errors"
	"OpenPrompt-Chain/internal/observability/metrics"
	"OpenPrompt-Chain/internal/registry"
	"OpenPrompt-Chain/internal/run"
)

// Server 负责暴露 REST 接口，供外部提交与查询链执行。
type Server struct {
	addr   string
	runs   *run.Service
	chains *registry.Registry
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runs *run.Service, chains *registry.Registry) *Server {
	return &Server{addr: addr, runs: runs, chains: chains}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", measured("runs", s.handleRuns))
	mux.HandleFunc("/api/v1/runs/stats", measured("run_stats", s.handleRunStats))
	mux.HandleFunc("/api/v1/runs/", measured("run_detail", s.handleRunDetail))
	mux.HandleFunc("/api/v1/invoke", measured("invoke", s.handleInvoke))
	mux.HandleFunc("/api/v1/chains", measured("chains", s.handleChains))
	mux.HandleFunc("/healthz", measured("healthz", s.handleHealth))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET/POST")
	}
}

// handleSubmitRun 受理异步链执行请求，创建记录后立即返回。
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}

	var req run.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}

	submitted, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		writeCodedError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}

	opts := listOptionsFromQuery(r)
	runs, err := s.runs.List(r.Context(), opts...)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}

	stats, err := s.runs.Stats(r.Context(), listOptionsFromQuery(r)...)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "缺少运行 ID")
		return
	}

	detail, err := s.runs.Get(r.Context(), id)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// invokeRequest 描述同步调用请求。Inputs 非空时按批量处理。
type invokeRequest struct {
	Chain  string           `json:"chain"`
	Input  map[string]any   `json:"input,omitempty"`
	Inputs []map[string]any `json:"inputs,omitempty"`
}

// handleInvoke 同步执行链并返回结果，适合低延迟的单次调用。
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 POST")
		return
	}
	if s.chains == nil {
		writeError(w, http.StatusServiceUnavailable, "链注册表未初始化")
		return
	}

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	if strings.TrimSpace(req.Chain) == "" {
		writeError(w, http.StatusBadRequest, "链名不能为空")
		return
	}

	if len(req.Inputs) > 0 {
		s.handleBatchInvoke(w, r, req)
		return
	}

	outcome, err := s.chains.Invoke(r.Context(), req.Chain, req.Input)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleBatchInvoke(w http.ResponseWriter, r *http.Request, req invokeRequest) {
	inputs := make([]any, len(req.Inputs))
	for i, input := range req.Inputs {
		inputs[i] = input
	}

	runnable := chain.Func(func(ctx context.Context, input any) (any, error) {
		values, _ := input.(map[string]any)
		return s.chains.Invoke(ctx, req.Chain, values)
	})

	results, err := chain.Batch(r.Context(), runnable, inputs, 4)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.chains == nil {
		writeError(w, http.StatusServiceUnavailable, "链注册表未初始化")
		return
	}

	type chainInfo struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	names := s.chains.Names()
	infos := make([]chainInfo, 0, len(names))
	for _, name := range names {
		info := chainInfo{Name: name}
		if c, ok := s.chains.Chain(name); ok {
			info.Description = c.Description()
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func listOptionsFromQuery(r *http.Request) []run.ListOption {
	query := r.URL.Query()
	var opts []run.ListOption

	if raw := query.Get("status"); raw != "" {
		parts := strings.Split(raw, ",")
		statuses := make([]run.Status, 0, len(parts))
		for _, part := range parts {
			statuses = append(statuses, run.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, run.WithStatuses(statuses...))
	}
	if chainName := query.Get("chain"); chainName != "" {
		opts = append(opts, run.WithChain(chainName))
	}
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, run.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, run.WithOffset(parsed))
		}
	}
	if q := query.Get("q"); q != "" {
		opts = append(opts, run.WithQuery(q))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, run.WithSortOrder(run.SortByUpdatedAsc))
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeCodedError 根据统一错误码映射 HTTP 状态。
func writeCodedError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, run.CodeRunValidation, xerrors.CodeTemplateFailure, xerrors.CodeParseFailure:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, run.CodeRunNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, run.CodeRunConflict:
		status = http.StatusConflict
	case xerrors.CodeModelRateLimited:
		status = http.StatusTooManyRequests
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(xerrors.CodeOf(err)),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// measured 为处理函数附加请求指标采集。
func measured(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
