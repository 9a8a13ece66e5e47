// RTLDAB - An rtl-sdr monitor for DAB and DAB+ multiplexes.
// Copyright (C) 2015 Douglas Hall
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package httpapi serves pipeline status and results over HTTP and accepts
// tune, start and stop commands.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bemasher/rtldab/pipeline"
)

const (
	statusEndpoint      = "/status"
	catalogEndpoint     = "/catalog"
	measurementEndpoint = "/measurement"
	tuneEndpoint        = "/tune"
	startEndpoint       = "/start"
	stopEndpoint        = "/stop"
	parametersEndpoint  = "/parameters"
)

// Controller is the part of the pipeline the API drives.
type Controller interface {
	Status() pipeline.Status
	Latest() (pipeline.Result, bool)
	Start(pipeline.Params) error
	Stop() error
	SetFrequency(hz uint32) error
	SetParameters(pipeline.Settings) error
}

type Server struct {
	ctl    Controller
	params pipeline.Params
	log    logrus.FieldLogger
	router *gin.Engine
}

// New builds the router. Sessions started over the API use params, with the
// frequency optionally replaced by the request.
func New(log logrus.FieldLogger, ctl Controller, params pipeline.Params) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		ctl:    ctl,
		params: params,
		log:    log.WithField("component", "http"),
		router: gin.New(),
	}

	s.router.Use(gin.Recovery(), s.logRequest)

	s.router.GET(statusEndpoint, s.status)
	s.router.GET(catalogEndpoint, s.catalog)
	s.router.GET(measurementEndpoint, s.measurement)
	s.router.POST(tuneEndpoint, s.tune)
	s.router.POST(startEndpoint, s.start)
	s.router.POST(stopEndpoint, s.stop)
	s.router.PUT(parametersEndpoint, s.parameters)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.WithField("addr", addr).Info("listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http")
	}
	return nil
}

func (s *Server) logRequest(c *gin.Context) {
	start := time.Now()
	c.Next()

	s.log.WithFields(logrus.Fields{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"elapsed": time.Since(start),
	}).Debug("request")
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctl.Status())
}

func (s *Server) catalog(c *gin.Context) {
	r, ok := s.ctl.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no results yet"})
		return
	}
	c.JSON(http.StatusOK, r.Catalog.Export())
}

func (s *Server) measurement(c *gin.Context) {
	r, ok := s.ctl.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no results yet"})
		return
	}
	c.JSON(http.StatusOK, r.Measurement)
}

type tuneRequest struct {
	FrequencyHz uint32 `json:"frequency_hz" binding:"required"`
}

func (s *Server) tune(c *gin.Context) {
	var req tuneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.ctl.SetFrequency(req.FrequencyHz); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctl.Status())
}

type startRequest struct {
	FrequencyHz uint32 `json:"frequency_hz"`
}

func (s *Server) start(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	params := s.params
	if req.FrequencyHz != 0 {
		params.SourceParams.CenterFreq = req.FrequencyHz
	} else if hz := s.ctl.Status().Frequency; hz != 0 {
		params.SourceParams.CenterFreq = hz
	}

	if err := s.ctl.Start(params); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.ctl.Status())
}

func (s *Server) stop(c *gin.Context) {
	if err := s.ctl.Stop(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctl.Status())
}

func (s *Server) parameters(c *gin.Context) {
	var req pipeline.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if n := req.FFTSize; n != nil && (*n < 16 || *n&(*n-1) != 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fft_size must be a power of two >= 16"})
		return
	}
	if d := req.Interval; d != nil && *d < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval must not be negative"})
		return
	}

	if err := s.ctl.SetParameters(req); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctl.Status())
}

func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch errors.Cause(err) {
	case pipeline.ErrBusy:
		code = http.StatusConflict
	case pipeline.ErrClosed:
		code = http.StatusServiceUnavailable
	}

	s.log.WithError(err).Warn("command failed")
	c.JSON(code, gin.H{"error": err.Error()})
}
