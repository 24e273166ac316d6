package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"fridge-tetris/internal/lib/sl"
	"fridge-tetris/internal/llm"
	"fridge-tetris/internal/packing"
)

const (
	fieldCurrentFridge = "current_fridge"
	fieldNewGroceries  = "new_groceries"
	fieldMode          = "mode"
)

const (
	msgMissingFridge    = "Please upload an image of your current fridge state."
	msgMissingGroceries = "Please upload an image of your new groceries."
)

// PlanResponse is the JSON body of a successful plan request.
type PlanResponse struct {
	Text      string `json:"text"`
	Image     string `json:"image"`
	ImageMIME string `json:"image_mime"`
	Annotated bool   `json:"annotated"`
	Mode      string `json:"mode"`
	RequestID string `json:"request_id"`
}

// PlanHandler handles POST /api/v1/plan
func (s *PlanService) PlanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)

		fridge, err := readFormFile(c, fieldCurrentFridge)
		if err != nil {
			s.badUpload(c, err, msgMissingFridge)
			return
		}
		groceries, err := readFormFile(c, fieldNewGroceries)
		if err != nil {
			s.badUpload(c, err, msgMissingGroceries)
			return
		}

		mode, err := llm.ParseMode(c.PostForm(fieldMode))
		if err != nil {
			writeError(c, err)
			return
		}

		resp, err := s.planner.GeneratePackingPlan(c.Request.Context(), llm.InferenceRequest{
			SystemPrompt:  s.prompt,
			CurrentFridge: fridge,
			NewGroceries:  groceries,
			Mode:          mode,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		// Without an annotated image the fridge photo is shown next to the text.
		image := fridge
		if resp.HasAnnotatedImage() {
			image = resp.AnnotatedImage
		}

		c.JSON(http.StatusOK, PlanResponse{
			Text:      resp.NarrativeText,
			Image:     base64.StdEncoding.EncodeToString(image),
			ImageMIME: mimetype.Detect(image).String(),
			Annotated: resp.HasAnnotatedImage(),
			Mode:      mode.String(),
			RequestID: packing.RequestIDFromContext(c.Request.Context()),
		})
	}
}

func (s *PlanService) badUpload(c *gin.Context, err error, missingMsg string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("Upload exceeds %d bytes.", tooLarge.Limit),
			"code":  "too_large",
		})
	case errors.Is(err, http.ErrMissingFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": missingMsg, "code": "missing_image"})
	default:
		s.log.Warn("failed to read upload", sl.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": llm.UserMessage(llm.ErrInvalidImage), "code": llm.Code(llm.ErrInvalidImage)})
	}
}

func readFormFile(c *gin.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, err
	}
	return readMultipartFile(fh)
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case llm.IsInvalidInput(err):
		status = http.StatusBadRequest
	case llm.IsModelNotReady(err):
		status = http.StatusServiceUnavailable
	case llm.IsBackendUnavailable(err), errors.Is(err, llm.ErrMalformedResponse):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": llm.UserMessage(err), "code": llm.Code(err)})
}
