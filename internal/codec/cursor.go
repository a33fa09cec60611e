package codec

// Cursor is a bounds-checked reader/writer over a flat byte buffer.
// A reader never mutates its buffer. A writer either grows on demand or,
// when created with NewFixedWriter, fails with ErrOutOfBounds at capacity.
type Cursor struct {
	buf   []byte
	pos   int
	fixed bool
	write bool
}

// NewReader returns a cursor reading data from offset 0.
func NewReader(data []byte) *Cursor {
	return &Cursor{buf: data, fixed: true}
}

// NewWriter returns a growable writer with an initial capacity hint.
func NewWriter(capacity int) *Cursor {
	return &Cursor{buf: make([]byte, 0, capacity), write: true}
}

// NewFixedWriter returns a writer that writes into buf and never grows it.
func NewFixedWriter(buf []byte) *Cursor {
	return &Cursor{buf: buf, fixed: true, write: true}
}

// Pos returns the current position.
func (c *Cursor) Pos() int { return c.pos }

// Len returns the buffer length.
func (c *Cursor) Len() int { return len(c.buf) }

// Bytes returns the written buffer.
func (c *Cursor) Bytes() []byte { return c.buf }

// Seek moves to an absolute offset. Readers and fixed writers may seek at most
// to the buffer end; growable writers may seek past it and the gap is zero
// filled on the next write.
func (c *Cursor) Seek(offset int) error {
	if offset < 0 || (c.fixed && offset > len(c.buf)) {
		return &OutOfBoundsError{Offset: offset, Width: 0, Len: len(c.buf)}
	}
	c.pos = offset
	return nil
}

func (c *Cursor) check(width int) error {
	if width < 0 || c.pos+width > len(c.buf) {
		return &OutOfBoundsError{Offset: c.pos, Width: width, Len: len(c.buf)}
	}
	return nil
}

// ReadBytes returns the next width bytes as a sub-slice of the buffer.
func (c *Cursor) ReadBytes(width int) ([]byte, error) {
	if err := c.check(width); err != nil {
		return nil, err
	}
	b := c.buf[c.pos : c.pos+width : c.pos+width]
	c.pos += width
	return b, nil
}

// ReadUint reads a big-endian integer of 1, 2 or 4 bytes. With signed set the
// value is interpreted as two's complement.
func (c *Cursor) ReadUint(width int, signed bool) (int64, error) {
	if err := c.check(width); err != nil {
		return 0, err
	}
	raw, err := Uint(c.buf[c.pos : c.pos+width])
	if err != nil {
		return 0, err
	}
	c.pos += width
	if signed {
		return Signed(raw, width), nil
	}
	return int64(raw), nil
}

// ReadASCII reads width bytes as text with trailing NUL and space trimmed.
func (c *Cursor) ReadASCII(width int) (string, error) {
	b, err := c.ReadBytes(width)
	if err != nil {
		return "", err
	}
	return TrimASCII(b), nil
}

// WriteBytes writes b at the current position.
func (c *Cursor) WriteBytes(b []byte) error {
	end := c.pos + len(b)
	if end > len(c.buf) {
		if c.fixed || !c.write {
			return &OutOfBoundsError{Offset: c.pos, Width: len(b), Len: len(c.buf)}
		}
		c.grow(end)
	}
	copy(c.buf[c.pos:end], b)
	c.pos = end
	return nil
}

// WriteUint writes v big-endian in width bytes.
func (c *Cursor) WriteUint(v int64, width int, signed bool) error {
	b, err := PutUint(v, width, signed)
	if err != nil {
		return err
	}
	return c.WriteBytes(b)
}

func (c *Cursor) grow(size int) {
	if size <= cap(c.buf) {
		c.buf = c.buf[:size]
		return
	}
	next := make([]byte, size, size*2)
	copy(next, c.buf)
	c.buf = next
}

// Grow extends a growable writer's buffer with zeros to at least size bytes.
func (c *Cursor) Grow(size int) error {
	if size <= len(c.buf) {
		return nil
	}
	if c.fixed || !c.write {
		return &OutOfBoundsError{Offset: len(c.buf), Width: size - len(c.buf), Len: len(c.buf)}
	}
	c.grow(size)
	return nil
}
