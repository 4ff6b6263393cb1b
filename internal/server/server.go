// Package server exposes the extraction dispatcher over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"imageocr/internal/extract"
	"imageocr/internal/logger"
	"imageocr/pkg/models"
)

const (
	requestIDHeader = "X-Request-ID"
	uploadField     = "files"
)

// Extractor is the part of extract.Dispatcher the server uses.
type Extractor interface {
	ExtractBatch(ctx context.Context, docs []extract.Document) []models.ExtractionResult
}

// Config configures the HTTP server.
type Config struct {
	Addr        string
	BodyLimit   int
	CORSOrigins string
	Version     string
}

// Server serves the upload API.
type Server struct {
	app *fiber.App
	cfg Config
	ext Extractor
	log zerolog.Logger
}

// New builds the fiber application and registers the routes.
func New(cfg Config, ext Extractor) *Server {
	if cfg.CORSOrigins == "" {
		cfg.CORSOrigins = "*"
	}
	s := &Server{
		cfg: cfg,
		ext: ext,
		log: logger.WithComponent("server"),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "ImageOCR API",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
		BodyLimit:             cfg.BodyLimit,
		IdleTimeout:           120 * time.Second,
	})

	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	s.app.Use(requestid.New(requestid.Config{
		Header:    requestIDHeader,
		Generator: uuid.NewString,
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORSOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, X-Request-ID",
		AllowMethods:  "GET, POST, OPTIONS",
		ExposeHeaders: requestIDHeader,
	}))
	s.app.Use(s.requestLogger)

	s.app.Get("/health", s.health)
	api := s.app.Group("/api")
	api.Post("/upload", s.upload)
	api.Post("/merge", s.merge)

	return s
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called.
func (s *Server) Listen() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	requestID, _ := c.Locals(requestid.ConfigDefault.ContextKey).(string)
	reqLog := logger.WithRequestID(requestID)
	reqLog.Info().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
	return err
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "imageocr",
		"version": s.cfg.Version,
	})
}

// upload extracts every file of the multipart "files" field and returns one
// result per file in upload order.
func (s *Server) upload(c *fiber.Ctx) error {
	docs, err := s.documents(c)
	if err != nil {
		return err
	}
	return c.JSON(s.ext.ExtractBatch(c.UserContext(), docs))
}

// merge is upload with the successful texts joined into one marked-up document.
func (s *Server) merge(c *fiber.Ctx) error {
	docs, err := s.documents(c)
	if err != nil {
		return err
	}
	results := s.ext.ExtractBatch(c.UserContext(), docs)
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(extract.Merge(results))
}

func (s *Server) documents(c *fiber.Ctx) ([]extract.Document, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Expected a multipart form with a \"files\" field")
	}
	headers := form.File[uploadField]
	if len(headers) == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "No files uploaded")
	}

	docs := make([]extract.Document, 0, len(headers))
	for _, fh := range headers {
		content, err := readUpload(fh)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Failed to read %s: %v", fh.Filename, err))
		}
		docs = append(docs, extract.Document{Filename: fh.Filename, Content: content})
	}
	return docs, nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// errorHandler renders errors as {"message": ...}.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "An unexpected error occurred"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code, message = fe.Code, fe.Message
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	return c.Status(code).JSON(fiber.Map{
		"message":    message,
		"request_id": c.GetRespHeader(requestIDHeader),
	})
}
