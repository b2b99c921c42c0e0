// Package worker talks to an external face detector process.
//
// Protocol: the parent writes [uint32 BE length][jpeg] to the child's stdin.
// The child answers on FD 3 with [uint32 BE length][payload], where payload is
// a status byte followed by either a JSON face record (status 0, "null" when
// no face was found) or [uint32 BE length][message] (status 1).
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/livecapture/internal/types"
	"github.com/andresmejia3/livecapture/internal/utils"
)

const (
	statusOK    byte = 0
	statusError byte = 1

	// maxResponse guards against a corrupted length header.
	maxResponse = 16 << 20
)

// ErrDetector wraps errors reported by the detector itself.
var ErrDetector = errors.New("detector error")

type DetectorWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// NewDetectorWorker starts the detector command line (split on whitespace).
func NewDetectorWorker(ctx context.Context, id int, cmdline string) (*DetectorWorker, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty detector command")
	}
	det := utils.NewSafeCommand(ctx, fields[0], fields[1:]...)

	// Side-channel pipe (FD 3) keeps detector output apart from its stdout noise.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	det.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := det.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := det.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("detector %d failed to start: %w", id, err)
	}

	// Only the child holds the write end now.
	w.Close()

	return &DetectorWorker{
		ID:       id,
		Cmd:      det,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one request and returns the raw response payload.
func (w *DetectorWorker) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		// A crashed detector shows up here; its stderr is in Cmd.Stderr.
		return nil, err
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("detector response too large: %d bytes", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Detect runs the detector on one JPEG frame. A nil record means no face.
func (w *DetectorWorker) Detect(jpeg []byte) (types.Frame, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(jpeg))
	if err != nil {
		return types.Frame{}, fmt.Errorf("read frame header: %w", err)
	}

	resp, err := w.Communicate(jpeg)
	if err != nil {
		return types.Frame{}, err
	}
	face, err := ParseResponse(resp)
	if err != nil {
		return types.Frame{}, err
	}
	return types.Frame{Width: cfg.Width, Height: cfg.Height, Face: face}, nil
}

// ParseResponse decodes a detector payload.
func ParseResponse(resp []byte) (*types.FaceRecord, error) {
	if len(resp) < 1 {
		return nil, fmt.Errorf("empty response from detector")
	}

	reader := bytes.NewReader(resp[1:])
	switch resp[0] {
	case statusOK:
		body := resp[1:]
		// Some detectors report logic errors as {"error": "..."} with status 0.
		var errorResult types.ErrorResult
		if json.Unmarshal(body, &errorResult) == nil && errorResult.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrDetector, errorResult.Error)
		}
		var face *types.FaceRecord
		if err := json.Unmarshal(body, &face); err != nil {
			return nil, fmt.Errorf("decode face record: %w", err)
		}
		return face, nil
	case statusError:
		var msgLen uint32
		if err := binary.Read(reader, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("read error length: %w", err)
		}
		if int(msgLen) > reader.Len() {
			return nil, fmt.Errorf("truncated error message")
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(reader, msg); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrDetector, msg)
	default:
		return nil, fmt.Errorf("unknown detector status %d", resp[0])
	}
}

func (w *DetectorWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
