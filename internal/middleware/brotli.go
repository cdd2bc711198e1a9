package middleware

import (
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// BrotliConfig controls the response compression middleware.
type BrotliConfig struct {
	// Quality is the brotli level, 0..11.
	Quality int
	// Skipper disables compression for a request when it returns true.
	Skipper func(c *gin.Context) bool
	// MinLength is the body size below which responses pass through
	// uncompressed.
	MinLength int
}

var DefaultBrotliConfig = BrotliConfig{
	Quality:   brotli.DefaultCompression,
	MinLength: 1024,
}

// brotliWriter buffers the response until MinLength is crossed, then
// switches to a compressed stream. Short bodies are written out as-is.
type brotliWriter struct {
	gin.ResponseWriter
	bw        *brotli.Writer
	pending   []byte
	minLength int
	engaged   bool
}

func (w *brotliWriter) Write(data []byte) (int, error) {
	w.pending = append(w.pending, data...)
	if !w.engaged && len(w.pending) >= w.minLength {
		w.engage()
	}
	if w.engaged {
		if err := w.drain(); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

func (w *brotliWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *brotliWriter) engage() {
	w.engaged = true
	w.ResponseWriter.Header().Set("Content-Encoding", "br")
	w.ResponseWriter.Header().Del("Content-Length")
}

func (w *brotliWriter) drain() error {
	if len(w.pending) == 0 {
		return nil
	}
	_, err := w.bw.Write(w.pending)
	w.pending = w.pending[:0]
	return err
}

// Flush satisfies http.Flusher for streaming handlers. Anything still
// buffered goes out uncompressed.
func (w *brotliWriter) Flush() {
	_ = w.flushPlain()
	w.ResponseWriter.Flush()
}

func (w *brotliWriter) flushPlain() error {
	if len(w.pending) == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.pending)
	w.pending = w.pending[:0]
	return err
}

// Brotli returns the compression middleware with default settings.
func Brotli() gin.HandlerFunc {
	return BrotliWithConfig(DefaultBrotliConfig)
}

// BrotliWithConfig returns the compression middleware with the given config.
func BrotliWithConfig(cfg BrotliConfig) gin.HandlerFunc {
	if cfg.Quality < brotli.BestSpeed || cfg.Quality > brotli.BestCompression {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultBrotliConfig.MinLength
	}

	return func(c *gin.Context) {
		if mustPassThrough(c) || (cfg.Skipper != nil && cfg.Skipper(c)) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")

		w := &brotliWriter{
			ResponseWriter: c.Writer,
			minLength:      cfg.MinLength,
			bw:             brotli.NewWriterLevel(c.Writer, cfg.Quality),
		}

		defer func() {
			if w.engaged {
				if err := w.drain(); err != nil {
					_ = c.Error(err)
				}
				w.bw.Close()
				return
			}
			if err := w.flushPlain(); err != nil {
				_ = c.Error(err)
			}
		}()

		c.Writer = w
		c.Next()
	}
}

// mustPassThrough reports protocols that break under buffered compression:
// SSE needs immediate delivery and a WebSocket upgrade handshake fails if
// the response is wrapped.
func mustPassThrough(c *gin.Context) bool {
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return true
	}
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(strings.ToLower(enc)) == "br" {
			return true
		}
	}
	return false
}
