package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"course-chat/internal/conversation"
	"course-chat/internal/domain"
)

// renderer escribe en la terminal el texto nuevo de la respuesta en curso de
// la sesión activa.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	ctl     *conversation.Controller
	printed map[string]string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, printed: make(map[string]string)}
}

func (r *renderer) attach(ctl *conversation.Controller) {
	r.mu.Lock()
	r.ctl = ctl
	r.mu.Unlock()
}

func (r *renderer) onChange(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctl == nil || sessionID != r.ctl.Active() {
		return
	}
	tr := r.ctl.Transcript(sessionID)
	if len(tr) == 0 {
		return
	}
	last := tr[len(tr)-1]
	if last.Role != domain.RoleBot || !last.Pending {
		return
	}
	r.writeDelta(last)
}

// writeDelta imprime lo que falte de la entrada. Si el texto dejó de extender
// lo ya impreso (una falla reemplaza el parcial) lo reimprime en una línea nueva.
// Requiere r.mu.
func (r *renderer) writeDelta(e conversation.Entry) {
	shown := r.printed[e.LocalID]
	if e.Text == shown {
		return
	}
	if shown != "" && strings.HasPrefix(e.Text, shown) {
		botColor.Fprint(r.out, e.Text[len(shown):])
	} else {
		botColor.Fprint(r.out, "\nBot > ", e.Text)
	}
	r.printed[e.LocalID] = e.Text
}

// finish cierra la respuesta de sessionID una vez persistida.
func (r *renderer) finish(sessionID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctl == nil {
		return
	}
	if errors.Is(err, conversation.ErrSendInProgress) {
		errorColor.Fprintln(r.out, "wait for the current answer to finish")
		return
	}
	if sessionID != r.ctl.Active() {
		infoColor.Fprintln(r.out, "\n[an answer arrived in another session, use /open to read it]")
		return
	}
	tr := r.ctl.Transcript(sessionID)
	if len(tr) > 0 && tr[len(tr)-1].Role == domain.RoleBot {
		last := tr[len(tr)-1]
		r.writeDelta(last)
		delete(r.printed, last.LocalID)
	}
	fmt.Fprintln(r.out)
	if err != nil {
		errorColor.Fprintf(r.out, "(%v)\n", err)
	}
}

func (r *renderer) printTranscript(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctl == nil || sessionID == "" {
		return
	}
	for _, e := range r.ctl.Transcript(sessionID) {
		switch e.Role {
		case domain.RoleUser:
			userColor.Fprint(r.out, "You > ")
			fmt.Fprintln(r.out, e.Text)
		default:
			botColor.Fprintf(r.out, "Bot > %s\n", e.Text)
		}
		if e.Failed {
			errorColor.Fprintln(r.out, "  (not delivered)")
		}
	}
}
