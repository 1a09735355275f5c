package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/reclip/reclip/api"
	"github.com/reclip/reclip/store"
	"github.com/reclip/reclip/types"
)

// =============================================================================
// 📚 素材库 Handler
// =============================================================================

// LibraryHandler 已归档成功产物的查询处理器
type LibraryHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewLibraryHandler 创建素材库处理器
func NewLibraryHandler(store *store.Store, logger *zap.Logger) *LibraryHandler {
	return &LibraryHandler{
		store:  store,
		logger: logger.With(zap.String("component", "library_handler")),
	}
}

// Register 把素材库路由挂到 mux 上。
func (h *LibraryHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/library", h.HandleLibrary)
}

// HandleLibrary 处理 GET /api/library
// 查询参数: provider, product, limit, offset。按归档时间倒序。
func (h *LibraryHandler) HandleLibrary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := store.LibraryQuery{
		Provider:    q.Get("provider"),
		ProductName: q.Get("product"),
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"limit must be a positive integer", h.logger)
			return
		}
		query.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"offset must be a non-negative integer", h.logger)
			return
		}
		query.Offset = offset
	}

	query.Normalize()
	items, total, err := h.store.Library(r.Context(), query)
	if err != nil {
		WriteAnyError(w, types.NewError(types.ErrInternal, "library query failed").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, api.LibraryResponse{
		Items:  items,
		Total:  total,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
}
