//go:build linux

package relay

// bufferRole is the role the stage buffer currently plays
type bufferRole uint8

const (
	// roleEmpty: the buffer holds nothing and is the target of the next read
	roleEmpty bufferRole = iota
	// roleStaged: the buffer holds data that is the source of the next write
	roleStaged
)

// stageBuffer is the single fixed-capacity buffer of a session. It is allocated
// once and alternates between roleEmpty and roleStaged, never both.
type stageBuffer struct {
	data []byte
	role bufferRole
	n    int // staged length
	off  int // staged bytes already written
}

func newStageBuffer(size int) stageBuffer {
	return stageBuffer{data: make([]byte, size)}
}

func (b *stageBuffer) isEmpty() bool {
	return b.role == roleEmpty
}

// pending returns the staged bytes not yet written
func (b *stageBuffer) pending() []byte {
	if b.role != roleStaged {
		return nil
	}
	return b.data[b.off:b.n]
}

// readFrom performs one non-blocking read into the empty buffer. On n > 0 the
// buffer becomes staged. Would-block and errors leave it empty.
func (b *stageBuffer) readFrom(fd int) (int, error) {
	if b.role != roleEmpty {
		panic("relay: read into a staged buffer")
	}
	n, err := readFd(fd, b.data)
	if err != nil || n == 0 {
		return n, err
	}
	b.role = roleStaged
	b.n = n
	b.off = 0
	return n, nil
}

// writeTo performs one non-blocking write of the pending bytes. done is true
// once everything staged has been written, the buffer is empty again then.
func (b *stageBuffer) writeTo(fd int) (n int, done bool, err error) {
	if b.role != roleStaged {
		panic("relay: write from an empty buffer")
	}
	n, err = writeFd(fd, b.data[b.off:b.n])
	if err != nil {
		return 0, false, err
	}
	b.off += n
	if b.off < b.n {
		return n, false, nil
	}
	b.role = roleEmpty
	b.n = 0
	b.off = 0
	return n, true, nil
}
