package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"fencedemux/internal/config"
	"fencedemux/internal/sse"
	"fencedemux/pkg/demux"
)

// Event types sent after the last chunk.
const (
	EventDone  = "done"
	EventError = "error"
)

// ChunkData is the payload of a chunk event.
type ChunkData struct {
	Chunk string `json:"chunk"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Error string `json:"error"`
}

// WSMessage is one outbound WebSocket message.
type WSMessage struct {
	Stream string `json:"stream"`
	Chunk  string `json:"chunk,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Server struct {
	cfg      config.Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		log: logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok\n")
	})
	mux.HandleFunc("POST /demux", s.handleDemuxSSE)
	mux.HandleFunc("GET /ws", s.handleDemuxWS)

	return s.loggingMiddleware(mux)
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("Starting server", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestOptions reads lang and strict query parameters, falling back to the
// configuration.
func (s *Server) requestOptions(r *http.Request, logger *slog.Logger) ([]string, []demux.Option, error) {
	cfg := s.cfg
	q := r.URL.Query()
	if langs := q["lang"]; len(langs) > 0 {
		cfg.Languages = langs
	}
	if v := q.Get("strict"); v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid strict parameter %q: %w", v, err)
		}
		cfg.Strict = strict
	}
	opts, err := cfg.DemuxOptions(logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg.Languages, opts, nil
}

// pipe reads every stream of res concurrently and hands each chunk to send.
// It returns once all streams ended, reporting the demux result.
func pipe(ctx context.Context, res *demux.Result, send func(stream, chunk string) error) error {
	streams := []*demux.Stream{res.Main}
	for _, st := range res.Named {
		streams = append(streams, st)
	}

	var g errgroup.Group
	for _, st := range streams {
		g.Go(func() error {
			defer st.Cancel()
			for {
				text, err := st.Read(ctx)
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if err := send(st.Name(), text); err != nil {
					return err
				}
			}
		})
	}
	sendErr := g.Wait()
	if err := res.Wait(); err != nil {
		return err
	}
	return sendErr
}

// handleDemuxSSE demultiplexes the SSE request body and streams the result back
// as SSE, one event per delivered chunk.
func (s *Server) handleDemuxSSE(w http.ResponseWriter, r *http.Request) {
	logger := s.log.With("request", uuid.NewString())

	langs, opts, err := s.requestOptions(r, logger)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The body is still being read while the response is written.
	if err := http.NewResponseController(w).EnableFullDuplex(); err != nil {
		logger.Debug("Full duplex not available", "error", err)
	}

	res, err := demux.Demux(r.Context(), demux.NewReaderSource(r.Body), langs, opts...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := sse.NewWriter(w)
	if err != nil {
		res.Main.Cancel()
		_ = res.Wait()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = pipe(r.Context(), res, func(stream, chunk string) error {
		return events.Send(sse.Event{Type: stream, Data: ChunkData{Chunk: chunk}})
	})
	if err != nil {
		logger.Warn("Demux ended with error", "error", err)
		_ = events.Send(sse.Event{Type: EventError, Data: ErrorData{Error: err.Error()}})
		return
	}
	_ = events.Send(sse.Event{Type: EventDone, Data: struct{}{}})
}

// handleDemuxWS treats every inbound text message as one raw fragment. An empty
// message or a close frame ends the source.
func (s *Server) handleDemuxWS(w http.ResponseWriter, r *http.Request) {
	clientID := uuid.NewString()
	logger := s.log.With("clientID", clientID)

	langs, opts, err := s.requestOptions(r, logger)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade to WebSocket", "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug("Failed to close WebSocket connection", "error", err)
		}
	}()
	logger.Info("WebSocket client connected", "languages", langs)

	// A client close only ends the input. The close frame is answered after
	// the last chunk has been sent.
	conn.SetCloseHandler(func(code int, text string) error { return nil })

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frags := make(chan string)
	chanSrc := demux.NewChanSource(frags)
	src := demux.NewFailingSource(chanSrc)

	res, err := demux.Demux(ctx, src, langs, opts...)
	if err != nil {
		_ = conn.WriteJSON(WSMessage{Stream: EventError, Error: err.Error()})
		return
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer close(frags)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					src.Fail(fmt.Errorf("reading websocket: %w", err))
				}
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			if len(data) == 0 {
				return
			}
			select {
			case frags <- string(data):
			case <-chanSrc.Done():
				return
			}
		}
	}()

	// gorilla/websocket supports one concurrent writer.
	var writeMu sync.Mutex
	write := func(msg WSMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	err = pipe(ctx, res, func(stream, chunk string) error {
		return write(WSMessage{Stream: stream, Chunk: chunk})
	})
	if err != nil {
		logger.Warn("Demux ended with error", "error", err)
		_ = write(WSMessage{Stream: EventError, Error: err.Error()})
	} else {
		_ = write(WSMessage{Stream: EventDone})
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	cancel()
	_ = conn.SetReadDeadline(time.Now())
	<-readerDone
	logger.Info("WebSocket client finished")
}

// checkOrigin accepts requests without Origin header and same-host origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := r.Host
	for _, expected := range []string{"http://" + host, "https://" + host} {
		if origin == expected {
			return true
		}
	}
	s.log.Warn("Rejected WebSocket connection from unauthorized origin", "origin", origin, "host", host)
	return false
}

// loggingMiddleware logs each HTTP request
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.log.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker to support WebSocket upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
}

// Flush implements http.Flusher to support streaming
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
