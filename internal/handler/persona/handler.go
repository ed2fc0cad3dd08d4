package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/ai-show/backend/internal/model/persona"
	"github.com/zhouzirui/ai-show/backend/pkg/utils"
)

// Handler 面试官目录的HTTP处理器
type Handler struct {
	personas persona.Store
}

// New 创建面试官处理器
func New(personas persona.Store) *Handler {
	return &Handler{
		personas: personas,
	}
}

// RegisterRoutes 注册面试官相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/interviewers", h.handleListInterviewers)
}

type interviewerView struct {
	Name    string `json:"name"`
	Voice   string `json:"voice"`
	Default bool   `json:"default"`
}

// handleListInterviewers 列出可选的面试官
func (h *Handler) handleListInterviewers(w http.ResponseWriter, r *http.Request) {
	items := h.personas.List()
	def := h.personas.Default().Name

	out := make([]interviewerView, 0, len(items))
	for _, p := range items {
		out = append(out, interviewerView{
			Name:    p.Name,
			Voice:   p.Speak.Provider.Type,
			Default: p.Name == def,
		})
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"interviewers": out})
}
