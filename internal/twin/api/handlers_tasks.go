package api

import (
	"io"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/wondertwin-ai/apiconform/internal/twin/store"
	base "github.com/wondertwin-ai/apiconform/pkg/store"
	"github.com/wondertwin-ai/apiconform/pkg/twincore"
)

// Listing bounds.
const (
	DefaultLimit = 20
	MaxLimit     = 100
	maxTitleLen  = 200
)

// userView is a user without credential material.
type userView struct {
	ID        int64   `json:"id"`
	Email     string  `json:"email"`
	FullName  *string `json:"full_name"`
	IsActive  bool    `json:"is_active"`
	Role      string  `json:"role"`
	CreatedAt string  `json:"created_at"`
}

// GetMe handles GET /users/me.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	twincore.JSON(w, http.StatusOK, userView{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		IsActive:  u.IsActive,
		Role:      u.Role,
		CreatedAt: u.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
	})
}

// ListTasks handles GET /tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var issues []twincore.ValidationIssue

	page := queryInt(q.Get("page"), 1, 1, math.MaxInt32, "page", &issues)
	limit := queryInt(q.Get("limit"), DefaultLimit, 1, MaxLimit, "limit", &issues)

	filter := store.TaskFilter{OwnerID: currentUser(r).ID, Search: strings.TrimSpace(q.Get("search"))}
	if v := q.Get("status"); v != "" {
		if !slices.Contains(store.Statuses, v) {
			issues = append(issues, enumIssue([]string{"query", "status"}, store.Statuses))
		}
		filter.Status = v
	}
	if v := q.Get("priority"); v != "" {
		if !slices.Contains(store.Priorities, v) {
			issues = append(issues, enumIssue([]string{"query", "priority"}, store.Priorities))
		}
		filter.Priority = v
	}
	if v := q.Get("project_id"); v != "" {
		filter.ProjectID = queryInt64(v, "project_id", &issues)
	}
	if len(issues) > 0 {
		twincore.ValidationError(w, issues)
		return
	}

	twincore.JSON(w, http.StatusOK, base.Paginate(h.store.ListTasks(filter), page, limit))
}

// CreateTask handles POST /tasks.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeObject(w, r)
	if !ok {
		return
	}
	patch, issues := parseTask(in, true)
	if len(issues) > 0 {
		twincore.ValidationError(w, issues)
		return
	}
	t := store.Task{
		Title:       *patch.Title,
		Description: patch.Description,
		Status:      "TODO",
		Priority:    "MEDIUM",
		ProjectID:   patch.ProjectID,
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	twincore.JSON(w, http.StatusCreated, h.store.CreateTask(currentUser(r).ID, t))
}

// GetTask handles GET /tasks/{id}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	t, found := h.store.GetTask(currentUser(r).ID, id)
	if !found {
		twincore.Error(w, http.StatusNotFound, "Task not found")
		return
	}
	twincore.JSON(w, http.StatusOK, t)
}

// UpdateTask handles PUT and PATCH /tasks/{id}. Both are partial updates.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	in, ok := decodeObject(w, r)
	if !ok {
		return
	}
	patch, issues := parseTask(in, false)
	if len(issues) > 0 {
		twincore.ValidationError(w, issues)
		return
	}
	t, found := h.store.UpdateTask(currentUser(r).ID, id, patch)
	if !found {
		twincore.Error(w, http.StatusNotFound, "Task not found")
		return
	}
	twincore.JSON(w, http.StatusOK, t)
}

// DeleteTask handles DELETE /tasks/{id}.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if !h.store.DeleteTask(currentUser(r).ID, id) {
		twincore.Error(w, http.StatusNotFound, "Task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Input parsing
// ---------------------------------------------------------------------------

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		twincore.ValidationError(w, []twincore.ValidationIssue{{
			Loc:  []string{"path", "task_id"},
			Msg:  "value is not a valid integer",
			Type: "type_error.integer",
		}})
		return 0, false
	}
	return id, true
}

func decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil || len(data) == 0 {
		twincore.ValidationError(w, []twincore.ValidationIssue{missing("body")})
		return nil, false
	}
	var in map[string]any
	if err := json.Unmarshal(data, &in); err != nil || in == nil {
		twincore.ValidationError(w, []twincore.ValidationIssue{bodyIssue("body must be a JSON object")})
		return nil, false
	}
	return in, true
}

// parseTask validates a task body. On create a title is required; on
// update every field is optional. description and project_id may be null.
func parseTask(in map[string]any, create bool) (store.TaskPatch, []twincore.ValidationIssue) {
	var (
		patch  store.TaskPatch
		issues []twincore.ValidationIssue
	)

	if v, ok := in["title"]; ok {
		s, isString := v.(string)
		switch {
		case !isString:
			issues = append(issues, typeIssue("title", "str"))
		case strings.TrimSpace(s) == "":
			issues = append(issues, twincore.ValidationIssue{Loc: []string{"body", "title"}, Msg: "title must not be empty", Type: "value_error"})
		case len(s) > maxTitleLen:
			issues = append(issues, twincore.ValidationIssue{Loc: []string{"body", "title"}, Msg: "title is too long", Type: "value_error"})
		default:
			patch.Title = &s
		}
	} else if create {
		issues = append(issues, missing("body", "title"))
	}

	if v, ok := in["description"]; ok && v != nil {
		if s, isString := v.(string); isString {
			patch.Description = &s
		} else {
			issues = append(issues, typeIssue("description", "str"))
		}
	}

	for _, e := range []struct {
		key     string
		allowed []string
		dst     **string
	}{
		{"status", store.Statuses, &patch.Status},
		{"priority", store.Priorities, &patch.Priority},
	} {
		v, ok := in[e.key]
		if !ok || v == nil {
			continue
		}
		s, isString := v.(string)
		if !isString || !slices.Contains(e.allowed, s) {
			issues = append(issues, enumIssue([]string{"body", e.key}, e.allowed))
			continue
		}
		*e.dst = &s
	}

	if v, ok := in["project_id"]; ok && v != nil {
		f, isNumber := v.(float64)
		if !isNumber || f != math.Trunc(f) {
			issues = append(issues, typeIssue("project_id", "int"))
		} else {
			id := int64(f)
			patch.ProjectID = &id
		}
	}

	return patch, issues
}

func queryInt(raw string, def, lo, hi int, name string, issues *[]twincore.ValidationIssue) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*issues = append(*issues, twincore.ValidationIssue{Loc: []string{"query", name}, Msg: "value is not a valid integer", Type: "type_error.integer"})
		return def
	}
	if n < lo || n > hi {
		*issues = append(*issues, twincore.ValidationIssue{
			Loc:  []string{"query", name},
			Msg:  "ensure this value is between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi),
			Type: "value_error.number",
		})
		return def
	}
	return n
}

func queryInt64(raw, name string, issues *[]twincore.ValidationIssue) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*issues = append(*issues, twincore.ValidationIssue{Loc: []string{"query", name}, Msg: "value is not a valid integer", Type: "type_error.integer"})
	}
	return n
}

func typeIssue(field, want string) twincore.ValidationIssue {
	return twincore.ValidationIssue{Loc: []string{"body", field}, Msg: "value is not a valid " + want, Type: "type_error." + want}
}

func enumIssue(loc []string, allowed []string) twincore.ValidationIssue {
	return twincore.ValidationIssue{Loc: loc, Msg: "value is not a valid enumeration member; permitted: " + strings.Join(allowed, ", "), Type: "type_error.enum"}
}
