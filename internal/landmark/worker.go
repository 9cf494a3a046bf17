package landmark

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"signserver/internal/frame"
)

const (
	statusOK    = 0
	statusError = 1
)

// Worker talks to an external landmark process.
//
// Request on stdin:  [uint32 len][uint32 width][uint32 height][RGB bytes]
// Reply on FD 3:     [uint32 len][status byte][body]
// status 0 carries a JSON Set, status 1 carries [uint32 len][message].
type Worker struct {
	Cmd      *exec.Cmd
	Stderr   *bytes.Buffer
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	mu       sync.Mutex
}

// NewWorker starts `python -u script` with a side-channel pipe on FD 3.
func NewWorker(python, script string) (*Worker, error) {
	cmd := exec.Command(python, "-u", script)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("landmark worker failed to start: %w", err)
	}
	// only the child keeps the write end
	w.Close()

	return &Worker{
		Cmd:      cmd,
		Stderr:   stderr,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Extract sends one frame and waits for its keypoints. Calls are serialized.
func (w *Worker) Extract(f frame.Frame) (Set, error) {
	if f.Empty() {
		return Set{}, frame.ErrEmptyFrame
	}
	rgb := f
	if f.Order != frame.RGB {
		rgb = f.ToRGB()
	}

	resp, err := w.communicate(rgb)
	if err != nil {
		return Set{}, err
	}
	return parseReply(resp)
}

func (w *Worker) communicate(f frame.Frame) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	header := make([]byte, 12)
	binary.BigEndian.PutUint32(header[0:4], uint32(8+len(f.Data)))
	binary.BigEndian.PutUint32(header[4:8], uint32(f.Width))
	binary.BigEndian.PutUint32(header[8:12], uint32(f.Height))
	if _, err := w.Stdin.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Stdin.Write(f.Data); err != nil {
		return nil, fmt.Errorf("failed to write frame: %w", err)
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, lenBuf); err != nil {
		return nil, w.crashErr(err)
	}
	body := make([]byte, binary.BigEndian.Uint32(lenBuf))
	if _, err := io.ReadFull(w.DataPipe, body); err != nil {
		return nil, w.crashErr(err)
	}
	return body, nil
}

func (w *Worker) crashErr(err error) error {
	if w.Stderr != nil && w.Stderr.Len() > 0 {
		return fmt.Errorf("landmark worker died: %w\n%s", err, w.Stderr.String())
	}
	return fmt.Errorf("landmark worker died: %w", err)
}

func parseReply(body []byte) (Set, error) {
	if len(body) == 0 {
		return Set{}, fmt.Errorf("empty landmark worker reply")
	}
	switch body[0] {
	case statusOK:
		var set Set
		if err := json.Unmarshal(body[1:], &set); err != nil {
			return Set{}, fmt.Errorf("failed to parse landmarks: %w", err)
		}
		return set, nil
	case statusError:
		rest := body[1:]
		if len(rest) < 4 {
			return Set{}, fmt.Errorf("landmark worker error: truncated message")
		}
		n := binary.BigEndian.Uint32(rest[:4])
		if int(n) > len(rest)-4 {
			n = uint32(len(rest) - 4)
		}
		return Set{}, fmt.Errorf("landmark worker error: %s", rest[4:4+n])
	default:
		return Set{}, fmt.Errorf("unknown landmark worker status %d", body[0])
	}
}

// Close stops the worker: closing stdin tells it to exit.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		return w.Cmd.Wait()
	}
	return nil
}
