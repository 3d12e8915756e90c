package server

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"bluecat/internal/imaging"
	"bluecat/internal/protocol"
	"bluecat/internal/queue"
)

// PrintHandler spools an uploaded image and queues it
func (s *Server) PrintHandler(c *gin.Context) {
	fh, ok := s.upload(c)
	if !ok {
		return
	}

	format, err := probe(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := queue.NewPrint("")
	job.Path = filepath.Join(s.cfg.SpoolDir, job.ID.String()+"."+format)
	if err := c.SaveUploadedFile(fh, job.Path); err != nil {
		log.Error().Err(err).Str("path", job.Path).Msg("failed to spool upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store image"})
		return
	}

	if !s.enqueue(c, job) {
		os.Remove(job.Path)
	}
}

// TextHandler queues the form field text for printing
func (s *Server) TextHandler(c *gin.Context) {
	text := c.PostForm("text")
	if strings.TrimSpace(text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	s.enqueue(c, queue.NewText(text))
}

func (s *Server) FeedHandler(c *gin.Context) {
	s.enqueue(c, queue.NewFeed())
}

// PreviewHandler returns the dithered image or text as a PNG without printing
func (s *Server) PreviewHandler(c *gin.Context) {
	var (
		img image.Image
		err error
	)

	if text := c.PostForm("text"); text != "" {
		img, err = imaging.RenderText(text, imaging.DefaultTextOptions())
	} else {
		fh, ok := s.upload(c)
		if !ok {
			return
		}
		img, err = decode(fh)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows := imaging.PackRows(imaging.Canvas(img))
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.Preview(rows, protocol.PrinterWidth)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (s *Server) StatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queued": s.queue.Len()})
}

// JobsHandler lists waiting jobs in print order
func (s *Server) JobsHandler(c *gin.Context) {
	type jobView struct {
		ID       string `json:"id"`
		Kind     string `json:"kind"`
		Attempts int    `json:"attempts"`
	}

	jobs := []jobView{}
	for _, j := range s.queue.Snapshot() {
		jobs = append(jobs, jobView{ID: j.ID.String(), Kind: j.Kind.String(), Attempts: j.Attempts})
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// upload returns the "image" part of a multipart body. On failure the
// response has already been written.
func (s *Server) upload(c *gin.Context) (*multipart.FileHeader, bool) {
	fh, err := c.FormFile("image")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field image is required"})
		return nil, false
	}
	return fh, true
}

func (s *Server) enqueue(c *gin.Context, job queue.Job) bool {
	if err := s.queue.Push(job); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return false
	}
	log.Info().Str("job", job.ID.String()).Stringer("kind", job.Kind).Msg("job queued")
	c.JSON(http.StatusAccepted, gin.H{"id": job.ID.String()})
	return true
}

func probe(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	_, format, err := imaging.Probe(f)
	return format, err
}

func decode(fh *multipart.FileHeader) (image.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return imaging.Decode(f)
}
