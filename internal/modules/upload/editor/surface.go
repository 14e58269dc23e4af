package editor

import (
	"fmt"
	"html"
	"strings"
	"sync"
)

// Surface is the editing widget the adapter drives.
type Surface interface {
	HTML() string
	SetHTML(markup string)
	InsertImage(url, alt string)
}

// Buffer is an in-memory Surface fed by content snapshots. The cursor is a
// byte offset into the markup; a negative cursor means end of document.
type Buffer struct {
	mu     sync.Mutex
	markup string
	cursor int
}

func NewBuffer(markup string) *Buffer {
	return &Buffer{markup: markup, cursor: -1}
}

func (b *Buffer) HTML() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.markup
}

func (b *Buffer) SetHTML(markup string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markup = markup
	if b.cursor > len(markup) {
		b.cursor = -1
	}
}

// SetCursor moves the insertion point. Out-of-range values mean end of document.
func (b *Buffer) SetCursor(pos int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos < 0 || pos > len(b.markup) {
		pos = -1
	}
	b.cursor = pos
}

func (b *Buffer) Cursor() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// InsertImage writes an <img> tag at the cursor and moves the cursor past it.
func (b *Buffer) InsertImage(url, alt string) {
	tag := fmt.Sprintf(`<img src="%s" alt="%s">`, strings.ReplaceAll(url, `"`, "%22"), html.EscapeString(alt))
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cursor < 0 {
		b.markup += tag
		return
	}
	b.markup = b.markup[:b.cursor] + tag + b.markup[b.cursor:]
	b.cursor += len(tag)
}
