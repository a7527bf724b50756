package httpserver

import (
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/twilio/twilio-go/twiml"

	"github.com/winnie192/voice-agent-healthcare/internal/config"
	"github.com/winnie192/voice-agent-healthcare/internal/middleware"
	"github.com/winnie192/voice-agent-healthcare/internal/telephony"
)

// Server bundles the HTTP router and call dependencies.
type Server struct {
	Router http.Handler

	cfg      config.Config
	calls    *telephony.Handler
	upgrader websocket.Upgrader
}

// New constructs the HTTP server with routes.
func New(cfg config.Config, calls *telephony.Handler) *Server {
	s := &Server{
		cfg:   cfg,
		calls: calls,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(middleware.TwilioAuth(func() string { return cfg.TwilioAuthToken }))

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/voice/twilio/incoming", s.handleIncomingCall)
	e.GET("/voice/ws/:phone", s.handleTwilioStream)
	e.GET("/voice/browser-ws/:phone", s.handleBrowserStream)

	s.Router = e
	return s
}

// handleIncomingCall answers Twilio's voice webhook with TwiML that connects
// the call to our media-stream endpoint.
func (s *Server) handleIncomingCall(c echo.Context) error {
	params, _ := c.Get(middleware.ParamsKey).(map[string]string)
	from := params["From"]
	to := params["To"]
	if to == "" {
		return c.String(http.StatusBadRequest, "missing To number")
	}
	log.Printf("incoming call from %s to %s", from, to)

	streamURL := fmt.Sprintf("wss://%s/voice/ws/%s", c.Request().Host, url.PathEscape(to))
	stream := &twiml.VoiceStream{Url: streamURL}
	stream.InnerElements = []twiml.Element{
		&twiml.VoiceParameter{Name: "caller", Value: from},
	}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	doc, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build response")
	}
	return c.XMLBlob(http.StatusOK, []byte(doc))
}

// handleTwilioStream services the bidirectional media stream for one call.
func (s *Server) handleTwilioStream(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	leg, err := telephony.NewTwilioLeg(conn)
	if err != nil {
		log.Printf("twilio stream setup failed: %v", err)
		_ = conn.Close()
		return nil
	}
	if err := s.calls.HandleCall(c.Request().Context(), leg, c.Param("phone")); err != nil {
		log.Printf("call ended with error: %v", err)
	}
	return nil
}

// handleBrowserStream services a browser demo client for one call.
func (s *Server) handleBrowserStream(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	leg, err := telephony.NewBrowserLeg(conn)
	if err != nil {
		log.Printf("browser stream setup failed: %v", err)
		_ = conn.Close()
		return nil
	}
	if err := s.calls.HandleCall(c.Request().Context(), leg, c.Param("phone")); err != nil {
		log.Printf("call ended with error: %v", err)
	}
	return nil
}
