package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mdmahbub/amarkotha"
	"github.com/mdmahbub/amarkotha/auth"
	"github.com/mdmahbub/amarkotha/internal/app"
	"github.com/mdmahbub/amarkotha/internal/dispatch"
	"github.com/mdmahbub/amarkotha/internal/domain"
	"github.com/mdmahbub/amarkotha/internal/present/rest/middleware"
	"github.com/mdmahbub/amarkotha/internal/present/rest/presenter"
	"github.com/mdmahbub/amarkotha/internal/session"
	"github.com/mdmahbub/amarkotha/internal/view"
	"github.com/mdmahbub/amarkotha/store"
)

type Handler struct {
	app      *app.App
	analyzer dispatch.Analyzer
}

func NewHandler(a *app.App, analyzer dispatch.Analyzer) *Handler {
	return &Handler{
		app:      a,
		analyzer: analyzer,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, authMW *middleware.AuthMiddleware) {
	api := e.Group("/api/v1", authMW.IdentifyRequester)

	api.POST("/auth/register", h.handleRegister)
	api.POST("/auth/login", h.handleLogin)
	api.POST("/auth/reset", h.handleReset)
	api.POST("/auth/logout", h.handleLogout)

	api.GET("/feed", h.handleFeed)
	api.GET("/posts/:id", h.handleGetPost)
	api.POST("/posts", h.handleCreatePost, h.maintenance)
	api.PATCH("/posts/:id", h.handleEditPost, h.maintenance)
	api.DELETE("/posts/:id", h.handleDeletePost, h.maintenance)
	api.POST("/posts/:id/vote", h.handleVote, h.maintenance)
	api.POST("/posts/:id/comments", h.handleComment, h.maintenance)

	api.GET("/users/:id", h.handleProfile)
	api.GET("/users/:id/posts", h.handleUserPosts)
	api.PUT("/users/me", h.handleUpdateProfile, h.maintenance)

	api.GET("/notifications", h.handleNotifications)
	api.POST("/notifications/:id/read", h.handleMarkRead)

	api.GET("/settings", h.handleGetSettings)
	api.PUT("/settings", h.handleUpdateSettings)

	api.GET("/admin/users", h.handleAdminListUsers)
	api.PATCH("/admin/users/:id", h.handleAdminUpdateUser)
	api.DELETE("/admin/users/:id", h.handleAdminDeleteUser)

	e.GET("/realtime", h.handleRealtime, authMW.IdentifyRequester)
}

// requester adapts a per-request actor to the dispatcher's actor port.
type requester struct {
	user *amarkotha.User
}

func (r requester) Actor() (*amarkotha.User, error) {
	if r.user == nil {
		return nil, domain.ErrAuthRequired
	}
	return r.user, nil
}

// dispatcherFor builds a dispatcher acting as the request's bearer
// identity, falling back to the node session when the request carries
// none.
func (h *Handler) dispatcherFor(c echo.Context) *dispatch.Dispatcher {
	if u, ok := middleware.RequesterFromContext(c.Request().Context()); ok {
		return dispatch.New(h.app.Store, h.app.Cache, requester{user: u}, h.analyzer)
	}
	return h.app.Dispatch
}

// maintenance closes mutating routes for everyone but admins while
// maintenance mode is on.
func (h *Handler) maintenance(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		settings, ok := h.app.Cache.Settings()
		if ok && settings.MaintenanceMode {
			u, _ := middleware.RequesterFromContext(c.Request().Context())
			if !u.IsAdmin() {
				return presenter.Unavailable(c, "site is under maintenance")
			}
		}
		return next(c)
	}
}

func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return presenter.Unauthorized(c, "authentication required")
	case errors.Is(err, domain.ErrForbidden):
		return presenter.Forbidden(c, "not allowed")
	case errors.Is(err, domain.ErrNotFound):
		return presenter.NotFound(c, "resource not found")
	case errors.Is(err, domain.ErrInvalid):
		return presenter.BadRequest(c, err)
	default:
		return presenter.InternalError(c, err)
	}
}

// --- auth ---

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

func (h *Handler) handleRegister(c echo.Context) error {
	ctx := c.Request().Context()

	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	token, err := h.app.Session.SignUp(ctx, session.SignUpParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Username: req.Username,
	})
	if err != nil {
		return presenter.BadRequestMessage(c, auth.HumanizeError(err))
	}

	return presenter.Created(c, echo.Map{"token": string(token)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(c echo.Context) error {
	ctx := c.Request().Context()

	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	token, err := h.app.Session.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		return presenter.Unauthorized(c, auth.HumanizeError(err))
	}

	return presenter.OK(c, echo.Map{"token": string(token)})
}

func (h *Handler) handleReset(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	if err := h.app.Session.SendPasswordReset(ctx, req.Email); err != nil {
		return presenter.BadRequestMessage(c, auth.HumanizeError(err))
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleLogout(c echo.Context) error {
	if err := h.app.Session.SignOut(c.Request().Context()); err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

// --- content ---

func (h *Handler) handleFeed(c echo.Context) error {
	filters := view.Filters{
		Search:   c.QueryParam("search"),
		Type:     amarkotha.PostType(c.QueryParam("type")),
		Division: c.QueryParam("division"),
		District: c.QueryParam("district"),
	}
	return presenter.OK(c, h.app.Feed(filters))
}

func (h *Handler) handleGetPost(c echo.Context) error {
	id := c.Param("id")

	if post, ok := h.app.Cache.Post(id); ok {
		return presenter.OK(c, post)
	}

	doc, err := h.app.Store.Get(c.Request().Context(), amarkotha.CollectionPosts, id)
	if err != nil {
		return fail(c, err)
	}
	var post amarkotha.Post
	if err := doc.Decode(&post); err != nil {
		return presenter.InternalError(c, err)
	}
	post.ID = doc.ID
	post.Normalize()
	return presenter.OK(c, post)
}

type createPostRequest struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Division    string   `json:"division"`
	District    string   `json:"district"`
	PollOptions []string `json:"pollOptions"`
}

func (h *Handler) handleCreatePost(c echo.Context) error {
	ctx := c.Request().Context()

	var req createPostRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	id, err := h.dispatcherFor(c).CreatePost(ctx, dispatch.CreatePostParams{
		Type:        amarkotha.PostType(req.Type),
		Title:       req.Title,
		Description: req.Description,
		Division:    req.Division,
		District:    req.District,
		PollOptions: req.PollOptions,
	})
	if err != nil {
		return fail(c, err)
	}
	return presenter.Created(c, echo.Map{"id": id})
}

type editPostRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h *Handler) handleEditPost(c echo.Context) error {
	var req editPostRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	err := h.dispatcherFor(c).EditPost(c.Request().Context(), c.Param("id"), req.Title, req.Description)
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleDeletePost(c echo.Context) error {
	err := h.dispatcherFor(c).DeletePost(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

type voteRequest struct {
	Direction string `json:"direction"`
}

func (h *Handler) handleVote(c echo.Context) error {
	var req voteRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	var dir dispatch.Direction
	switch req.Direction {
	case "upvote":
		dir = dispatch.Upvote
	case "downvote":
		dir = dispatch.Downvote
	default:
		return presenter.BadRequestMessage(c, "direction must be upvote or downvote")
	}

	err := h.dispatcherFor(c).Vote(c.Request().Context(), c.Param("id"), dir)
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

type commentRequest struct {
	Text string `json:"text"`
}

func (h *Handler) handleComment(c echo.Context) error {
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}

	err := h.dispatcherFor(c).Comment(c.Request().Context(), c.Param("id"), req.Text)
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

// --- users ---

func (h *Handler) handleProfile(c echo.Context) error {
	user, err := h.app.Profile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	user.Email = "" // never expose emails on the public surface
	return presenter.OK(c, user)
}

func (h *Handler) handleUserPosts(c echo.Context) error {
	ctx := c.Request().Context()

	snap, err := queryOnce(ctx, h.app.Store, store.Query{
		Collection: amarkotha.CollectionPosts,
		Filters:    []store.Filter{{Field: "authorId", Value: c.Param("id")}},
		OrderBy:    "timestamp",
		Descending: true,
	})
	if err != nil {
		return fail(c, err)
	}

	posts := make([]amarkotha.Post, 0, len(snap))
	for _, doc := range snap {
		var post amarkotha.Post
		if err := doc.Decode(&post); err != nil {
			continue
		}
		post.ID = doc.ID
		post.Normalize()
		posts = append(posts, post)
	}
	return presenter.OK(c, posts)
}

func (h *Handler) handleUpdateProfile(c echo.Context) error {
	ctx := c.Request().Context()

	u, ok := middleware.RequesterFromContext(ctx)
	if !ok {
		return presenter.Unauthorized(c, "authentication required")
	}

	var profile amarkotha.User
	if err := c.Bind(&profile); err != nil {
		return presenter.BadRequest(c, err)
	}
	profile.ID = u.ID

	if err := h.dispatcherFor(c).UpdateProfile(ctx, profile); err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

// --- notifications ---

func (h *Handler) handleNotifications(c echo.Context) error {
	ctx := c.Request().Context()

	u, ok := middleware.RequesterFromContext(ctx)
	if !ok {
		return presenter.Unauthorized(c, "authentication required")
	}

	snap, err := queryOnce(ctx, h.app.Store, store.Query{
		Collection: amarkotha.CollectionNotifications,
		Filters:    []store.Filter{{Field: "userId", Value: u.ID}},
		OrderBy:    "timestamp",
		Descending: true,
		Limit:      20,
	})
	if err != nil {
		return fail(c, err)
	}

	notifications := make([]amarkotha.Notification, 0, len(snap))
	for _, doc := range snap {
		var n amarkotha.Notification
		if err := doc.Decode(&n); err != nil {
			continue
		}
		n.ID = doc.ID
		notifications = append(notifications, n)
	}
	return presenter.OK(c, notifications)
}

func (h *Handler) handleMarkRead(c echo.Context) error {
	err := h.dispatcherFor(c).MarkNotificationRead(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

// --- settings ---

func (h *Handler) handleGetSettings(c echo.Context) error {
	settings, ok := h.app.Cache.Settings()
	if !ok {
		settings = amarkotha.DefaultSettings()
	}
	return presenter.OK(c, settings)
}

func (h *Handler) handleUpdateSettings(c echo.Context) error {
	var settings amarkotha.SiteSettings
	if err := c.Bind(&settings); err != nil {
		return presenter.BadRequest(c, err)
	}

	err := h.dispatcherFor(c).UpdateSettings(c.Request().Context(), settings)
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

// --- admin ---

func (h *Handler) handleAdminListUsers(c echo.Context) error {
	ctx := c.Request().Context()

	u, _ := middleware.RequesterFromContext(ctx)
	if !u.IsAdmin() {
		return presenter.Forbidden(c, "not allowed")
	}

	snap, err := queryOnce(ctx, h.app.Store, store.Query{
		Collection: amarkotha.CollectionUsers,
		OrderBy:    "joinedDate",
		Descending: true,
	})
	if err != nil {
		return fail(c, err)
	}

	users := make([]amarkotha.User, 0, len(snap))
	for _, doc := range snap {
		var user amarkotha.User
		if err := doc.Decode(&user); err != nil {
			continue
		}
		user.ID = doc.ID
		users = append(users, user)
	}
	return presenter.OK(c, users)
}

func (h *Handler) handleAdminUpdateUser(c echo.Context) error {
	var fields map[string]any
	if err := c.Bind(&fields); err != nil {
		return presenter.BadRequest(c, err)
	}

	err := h.dispatcherFor(c).AdminUpdateUser(c.Request().Context(), c.Param("id"), fields)
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleAdminDeleteUser(c echo.Context) error {
	err := h.dispatcherFor(c).AdminDeleteUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

// queryOnce runs a subscription query once: first delivery wins, then
// the subscription is released.
func queryOnce(ctx context.Context, st store.Store, q store.Query) (store.Snapshot, error) {
	type result struct {
		snap store.Snapshot
		err  error
	}
	ch := make(chan result, 1)

	cancel, err := st.Subscribe(ctx, q, func(snap store.Snapshot, err error) {
		select {
		case ch <- result{snap: snap, err: err}:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer cancel()

	select {
	case r := <-ch:
		return r.snap, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// --- realtime ---

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type realtimeRequest struct {
	Type     string `json:"type"`
	Search   string `json:"search"`
	PostType string `json:"postType"`
	Division string `json:"division"`
	District string `json:"district"`
}

type realtimeEvent struct {
	Type  string           `json:"type"`
	Posts []amarkotha.Post `json:"posts"`
}

// handleRealtime streams the projected feed. The client sends a listen
// request with its filter state; every cache change re-projects and
// pushes the full result.
func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer func() {
		ws.Close()
	}()

	ctx := c.Request().Context()

	changes, release := h.app.Observe()
	defer release()

	input := make(chan view.Filters)

	quit := make(chan struct{})

	// closed when the writer loop exits so the reader goroutine never
	// blocks on a send nobody receives
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			var req realtimeRequest
			err := ws.ReadJSON(&req)
			if err != nil {

				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.ErrorContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}

				select {
				case quit <- struct{}{}:
				case <-done:
				}
				return
			}

			switch req.Type {
			case "listen":
				select {
				case input <- view.Filters{
					Search:   req.Search,
					Type:     amarkotha.PostType(req.PostType),
					Division: req.Division,
					District: req.District,
				}:
				case <-done:
					return
				}
				slog.DebugContext(
					ctx, fmt.Sprintf("Socket listen: %+v", req),
					slog.String("module", "socket"),
				)
			case "h": // heartbeat
				// do nothing
			default:
				slog.InfoContext(
					ctx, "Unknown request type",
					slog.String("type", req.Type),
					slog.String("module", "socket"),
				)
			}
		}
	}()

	var filters view.Filters
	listening := false

	push := func() error {
		return ws.WriteJSON(realtimeEvent{Type: "feed", Posts: h.app.Feed(filters)})
	}

	for {
		select {
		case <-quit:
			return nil
		case filters = <-input:
			listening = true
			if err := push(); err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		case <-changes:
			if !listening {
				continue
			}
			if err := push(); err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}
