// Package httpapi is the Echo application: the request-response surface,
// the websocket upgrade route, and the operational endpoints.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orion/server/internal/core"
	"orion/server/internal/protocol"
	"orion/server/internal/ws"
)

// Server is the Echo application.
type Server struct {
	echo     *echo.Echo
	sessions *core.SessionRegistry
	lobbies  *core.LobbyRegistry
}

// New constructs an Echo app with websocket + REST routes.
func New(sessions *core.SessionRegistry, lobbies *core.LobbyRegistry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, sessions: sessions, lobbies: lobbies}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/ping", s.handlePing)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/lobbies", s.handleListLobbies)
	s.echo.POST("/lobbies", s.handleCreateLobby)
	s.echo.POST("/lobbies/:lobbyId/join", s.handleJoinLobby)
	s.echo.POST("/lobbies/:lobbyId/ptp/start", s.handleStartMediation)
	ws.NewHandler(s.sessions, s.lobbies).Register(s.echo)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

func (s *Server) handlePing(c echo.Context) error {
	return c.String(http.StatusOK, "pong")
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Lobbies  int    `json:"lobbies"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: s.sessions.Count(),
		Lobbies:  s.lobbies.Count(),
	})
}

type lobbySummary struct {
	Name           string `json:"name"`
	ID             string `json:"id"`
	CurrentMembers int    `json:"currentMembers"`
	MaxMembers     int    `json:"maxMembers"`
}

type listLobbiesResponse struct {
	Lobbies []lobbySummary `json:"lobbies"`
}

func (s *Server) handleListLobbies(c echo.Context) error {
	summaries := s.lobbies.ListPublic()
	out := make([]lobbySummary, 0, len(summaries))
	for _, l := range summaries {
		out = append(out, lobbySummary{
			Name:           l.Name,
			ID:             l.ID,
			CurrentMembers: l.CurrentMembers,
			MaxMembers:     l.MaxMembers,
		})
	}
	return c.JSON(http.StatusOK, listLobbiesResponse{Lobbies: out})
}

type createLobbyRequest struct {
	Token      string `json:"token"`
	HostName   string `json:"hostName"`
	LobbyName  string `json:"lobbyName"`
	IsPublic   bool   `json:"isPublic"`
	MaxMembers int    `json:"maxMembers"`
}

type createLobbyResponse struct {
	LobbyName string `json:"lobbyName"`
	LobbyID   string `json:"lobbyId"`
}

func (s *Server) handleCreateLobby(c echo.Context) error {
	var req createLobbyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := protocol.ValidateName(req.HostName); err != nil {
		return badRequest(c, "hostName: "+err.Error())
	}
	if err := protocol.ValidateName(req.LobbyName); err != nil {
		return badRequest(c, "lobbyName: "+err.Error())
	}
	if err := protocol.ValidateCapacity(req.MaxMembers); err != nil {
		return badRequest(c, "maxMembers: "+err.Error())
	}
	host, ok := s.sessions.LookupToken(req.Token)
	if !ok {
		return badRequest(c, "unknown token")
	}

	lobby, err := s.lobbies.Create(host, req.HostName, req.LobbyName, req.IsPublic, req.MaxMembers)
	if err != nil {
		return conflict(c, err)
	}
	return c.JSON(http.StatusCreated, createLobbyResponse{
		LobbyName: lobby.Name,
		LobbyID:   lobby.ID,
	})
}

type joinLobbyRequest struct {
	Token    string `json:"token"`
	PeerName string `json:"peerName"`
}

type joinLobbyResponse struct {
	LobbyID      string   `json:"lobbyId"`
	LobbyName    string   `json:"lobbyName"`
	LobbyMembers []string `json:"lobbyMembers"`
	Host         string   `json:"host"`
}

func (s *Server) handleJoinLobby(c echo.Context) error {
	var req joinLobbyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := protocol.ValidateName(req.PeerName); err != nil {
		return badRequest(c, "peerName: "+err.Error())
	}
	session, ok := s.sessions.LookupToken(req.Token)
	if !ok {
		return badRequest(c, "unknown token")
	}

	view, err := s.lobbies.Join(c.Param("lobbyId"), session, req.PeerName)
	if err != nil {
		return conflict(c, err)
	}
	return c.JSON(http.StatusOK, joinLobbyResponse{
		LobbyID:      view.LobbyID,
		LobbyName:    view.LobbyName,
		LobbyMembers: view.Members,
		Host:         view.HostName,
	})
}

type startMediationRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleStartMediation(c echo.Context) error {
	var req startMediationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	session, ok := s.sessions.LookupToken(req.Token)
	if !ok {
		return badRequest(c, "unknown token")
	}

	if err := s.lobbies.StartMediation(session, c.Param("lobbyId")); err != nil {
		return conflict(c, err)
	}
	return c.NoContent(http.StatusOK)
}

type errorResponse struct {
	Errors []string `json:"errors"`
}

func badRequest(c echo.Context, msg string) error {
	slog.Warn("request rejected", "path", c.Path(), "reason", msg)
	return c.JSON(http.StatusBadRequest, errorResponse{Errors: []string{msg}})
}

func conflict(c echo.Context, err error) error {
	slog.Warn("request refused", "path", c.Path(), "reason", err.Error())
	return c.JSON(http.StatusConflict, errorResponse{Errors: []string{err.Error()}})
}
