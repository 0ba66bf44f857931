package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"krakefactory/docs/openapi"
	"krakefactory/internal/adapters/export"
	"krakefactory/pkg/domain"
)

const internalError = "internal server error"

type errorBody struct {
	Error string `json:"error"`
}

type pingBody struct {
	OK    bool   `json:"ok"`
	DB    int    `json:"db,omitempty"`
	Error string `json:"error,omitempty"`
}

type submitBody struct {
	Message   string `json:"message"`
	BoardID   int64  `json:"board_id"`
	TestRunID int64  `json:"testrun_id"`
}

func (s *Server) ping(c echo.Context) error {
	if err := s.svc.Ping(c.Request().Context()); err != nil {
		s.logger.Error("ping failed", "error", err)
		return c.JSON(http.StatusInternalServerError, pingBody{OK: false, Error: internalError})
	}
	return c.JSON(http.StatusOK, pingBody{OK: true, DB: 1})
}

func (s *Server) submitTestRun(c echo.Context) error {
	var sub domain.Submission
	if err := decodeStrict(c.Request().Body, &sub); err != nil {
		return s.respondError(c, "submit test run", err)
	}
	res, err := s.svc.SubmitTestRun(c.Request().Context(), sub)
	if err != nil {
		return s.respondError(c, "submit test run", err)
	}
	return c.JSON(http.StatusOK, submitBody{Message: "Test run saved", BoardID: res.BoardID, TestRunID: res.TestRunID})
}

func (s *Server) listTestRuns(c echo.Context) error {
	rows, err := s.svc.ListSummaries(c.Request().Context())
	if err != nil {
		return s.respondError(c, "list test runs", err)
	}
	if rows == nil {
		rows = []domain.SummaryRow{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) exportCSV(c echo.Context) error {
	return s.download(c, export.FormatCSV, export.CSVFilename)
}

func (s *Server) exportXLSX(c echo.Context) error {
	return s.download(c, export.FormatXLSX, export.XLSXFilename)
}

// download renders the whole inventory before writing so a failure still
// produces a clean error response.
func (s *Server) download(c echo.Context, format export.Format, filename string) error {
	rows, err := s.svc.ListSummaries(c.Request().Context())
	if err != nil {
		return s.respondError(c, "export "+string(format), err)
	}
	var buf bytes.Buffer
	if err := export.Render(&buf, format, rows); err != nil {
		return s.respondError(c, "export "+string(format), err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, format.ContentType(), buf.Bytes())
}

func (s *Server) boardDetail(c echo.Context) error {
	serial, err := pathParam(c, "serial")
	if err != nil {
		return s.respondError(c, "get board detail", err)
	}
	detail, err := s.svc.GetBoardDetail(c.Request().Context(), serial)
	if err != nil {
		return s.respondError(c, "get board detail", err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) qrImageLabel(c echo.Context) error {
	req := export.LabelRequest{
		Serial:   c.FormValue("serial"),
		Caption:  c.FormValue("caption"),
		WidthMM:  export.ParseDimension(c.FormValue("width_mm"), s.labels.DefaultWidthMM),
		HeightMM: export.ParseDimension(c.FormValue("height_mm"), s.labels.DefaultHeightMM),
	}
	image, err := readFormFile(c, "qr_image")
	if err != nil {
		return s.respondError(c, "render label", err)
	}
	req.Image = image
	if err := req.Validate(); err != nil {
		return s.respondError(c, "render label", err)
	}

	var pdf bytes.Buffer
	if err := s.labels.Render(&pdf, req); err != nil {
		return s.respondError(c, "render label", err)
	}

	if s.blobs != nil {
		info, err := export.ArchiveLabel(c.Request().Context(), s.blobs, req.Serial, pdf.Bytes())
		if err != nil {
			s.logger.Error("label archive failed", "serial", strings.TrimSpace(req.Serial), "error", err)
		} else {
			c.Response().Header().Set("X-Label-Key", info.Key)
		}
	}

	name := "label-" + url.PathEscape(strings.TrimSpace(req.Serial)) + ".pdf"
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", name))
	return c.Blob(http.StatusOK, "application/pdf", pdf.Bytes())
}

func (s *Server) createExport(c echo.Context) error {
	var input export.Input
	if err := decodeStrict(c.Request().Body, &input); err != nil && !errors.Is(err, errEmptyBody) {
		return s.respondError(c, "create export", err)
	}
	record, err := s.exports.Enqueue(c.Request().Context(), input)
	if err != nil {
		return s.respondError(c, "create export", err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{"export": record})
}

func (s *Server) getExport(c echo.Context) error {
	record, ok := s.exports.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody{Error: "export not found"})
	}
	return c.JSON(http.StatusOK, map[string]any{"export": record})
}

func (s *Server) openAPI(c echo.Context) error {
	return c.Blob(http.StatusOK, "application/yaml", openapi.Spec())
}

// respondError maps err to a status. Only caller mistakes are echoed back;
// everything else is logged and answered with an opaque 500.
func (s *Server) respondError(c echo.Context, op string, err error) error {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return err
	case domain.IsValidation(err):
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, export.ErrQueueFull):
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	}
	s.logger.Error("request failed", "operation", op, "method", c.Request().Method, "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, errorBody{Error: internalError})
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := internalError
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = http.StatusText(code)
		if m, ok := he.Message.(string); ok && code < http.StatusInternalServerError {
			msg = m
		}
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, errorBody{Error: msg})
}

var errEmptyBody = domain.ValidationError{Field: "body", Message: "request body is required"}

// decodeStrict decodes exactly one JSON value, rejecting unknown fields.
func decodeStrict(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			return he
		case errors.Is(err, io.EOF):
			return errEmptyBody
		}
		return domain.ValidationError{Field: "body", Message: "invalid JSON body: " + err.Error()}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return domain.ValidationError{Field: "body", Message: "invalid JSON body: unexpected data after value"}
	}
	return nil
}

// pathParam returns the decoded value of a path parameter. echo routes on
// URL.RawPath when the request carries one, leaving its params escaped.
func pathParam(c echo.Context, name string) (string, error) {
	return unescapeParam(name, c.Param(name), c.Request().URL.RawPath != "")
}

func unescapeParam(name, value string, escaped bool) (string, error) {
	if !escaped {
		return value, nil
	}
	v, err := url.PathUnescape(value)
	if err != nil {
		return "", domain.ValidationError{Field: name, Message: fmt.Sprintf("invalid %s in path: %v", name, err)}
	}
	return v, nil
}

func readFormFile(c echo.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, nil
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", field, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}
