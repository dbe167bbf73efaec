// Package stream decodifica respuestas HTTP fragmentadas en texto UTF-8
// entregado de forma incremental.
package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

// StatusTrailer es el trailer HTTP con el que el servidor informa cómo terminó el stream.
const (
	StatusTrailer  = "X-Stream-Status"
	StatusComplete = "complete"
	StatusError    = "error"
	StatusTimeout  = "timeout"
)

const chunkSize = 1024

// ErrStream indica que el stream no pudo abrirse o se cortó antes de terminar.
var ErrStream = errors.New("stream error")

// ErrTimeout marca un stream cortado por vencer el plazo de la respuesta.
// Los errores que lo envuelven también satisfacen errors.Is(err, ErrStream).
var ErrTimeout = errors.New("stream timed out")

// Fragments es una secuencia de fragmentos de texto que se consume una sola vez.
// Recv devuelve io.EOF cuando la secuencia terminó correctamente.
type Fragments interface {
	Recv() (string, error)
	Close() error
}

// Reader convierte un cuerpo de bytes en fragmentos de texto, reteniendo los
// bytes de una runa multibyte partida entre dos lecturas.
type Reader struct {
	body    io.ReadCloser
	resp    *http.Response
	buf     []byte
	pending []byte
	eof     bool
	done    bool
	err     error
}

func NewReader(body io.ReadCloser) (*Reader, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: response has no body", ErrStream)
	}
	return &Reader{body: body, buf: make([]byte, chunkSize)}, nil
}

// NewResponseReader además valida el trailer de estado al llegar a EOF.
func NewResponseReader(resp *http.Response) (*Reader, error) {
	if resp == nil || resp.Body == nil || resp.Body == http.NoBody {
		return nil, fmt.Errorf("%w: response has no body", ErrStream)
	}
	r, err := NewReader(resp.Body)
	if err != nil {
		return nil, err
	}
	r.resp = resp
	return r, nil
}

// Recv devuelve el siguiente fragmento no vacío.
func (r *Reader) Recv() (string, error) {
	for {
		if r.err != nil {
			return "", r.err
		}
		if r.done {
			return "", io.EOF
		}
		if r.eof {
			if tail := r.flush(); tail != "" {
				return tail, nil
			}
			r.done = true
			if err := r.trailerError(); err != nil {
				r.err = err
				return "", err
			}
			return "", io.EOF
		}

		n, err := r.body.Read(r.buf)
		var text string
		if n > 0 {
			text = r.decode(r.buf[:n])
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			r.eof = true
		default:
			r.err = fmt.Errorf("%w: %w", ErrStream, err)
		}
		if text != "" {
			return text, nil
		}
	}
}

func (r *Reader) Close() error {
	r.done = true
	return r.body.Close()
}

// trailerError revisa si el servidor abortó el stream después de enviar las cabeceras.
func (r *Reader) trailerError() error {
	if r.resp == nil {
		return nil
	}
	switch status := r.resp.Trailer.Get(StatusTrailer); {
	case strings.EqualFold(status, StatusTimeout):
		return fmt.Errorf("%w: %w", ErrStream, ErrTimeout)
	case strings.EqualFold(status, StatusError):
		return fmt.Errorf("%w: server aborted the stream", ErrStream)
	}
	return nil
}

// decode devuelve el texto completo disponible y guarda el sufijo incompleto.
func (r *Reader) decode(chunk []byte) string {
	data := append(r.pending, chunk...)
	cut := incompleteSuffix(data)
	r.pending = append([]byte(nil), data[len(data)-cut:]...)
	return strings.ToValidUTF8(string(data[:len(data)-cut]), string(utf8.RuneError))
}

// flush emite los bytes retenidos como caracter de reemplazo.
func (r *Reader) flush() string {
	if len(r.pending) == 0 {
		return ""
	}
	r.pending = nil
	return string(utf8.RuneError)
}

// incompleteSuffix cuenta los bytes finales que inician una runa todavía incompleta.
func incompleteSuffix(data []byte) int {
	limit := len(data) - utf8.UTFMax
	if limit < 0 {
		limit = 0
	}
	for i := len(data) - 1; i >= limit; i-- {
		if !utf8.RuneStart(data[i]) {
			continue
		}
		if utf8.FullRune(data[i:]) {
			return 0
		}
		return len(data) - i
	}
	return 0
}
